package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/provider/ocr"
	"github.com/lenslate/lenslate/pkg/provider/translate"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	capture   map[string]func(CaptureConfig) (capture.Provider, error)
	ocr       map[string]func(ProviderEntry) (ocr.Provider, error)
	translate map[string]func(ProviderEntry) (translate.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:   make(map[string]func(CaptureConfig) (capture.Provider, error)),
		ocr:       make(map[string]func(ProviderEntry) (ocr.Provider, error)),
		translate: make(map[string]func(ProviderEntry) (translate.Provider, error)),
	}
}

// RegisterCapture registers a capture provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(CaptureConfig) (capture.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterOCR registers an OCR provider factory under name.
func (r *Registry) RegisterOCR(name string, factory func(ProviderEntry) (ocr.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr[name] = factory
}

// RegisterTranslate registers a translation provider factory under name.
func (r *Registry) RegisterTranslate(name string, factory func(ProviderEntry) (translate.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translate[name] = factory
}

// CreateCapture instantiates a capture provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateCapture(entry CaptureConfig) (capture.Provider, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateOCR instantiates an OCR provider using the factory registered under entry.Name.
func (r *Registry) CreateOCR(entry ProviderEntry) (ocr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.ocr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: ocr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslate instantiates a translation provider using the factory registered under entry.Name.
func (r *Registry) CreateTranslate(entry ProviderEntry) (translate.Provider, error) {
	r.mu.RLock()
	factory, ok := r.translate[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
