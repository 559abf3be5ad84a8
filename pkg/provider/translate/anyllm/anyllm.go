// Package anyllm provides a translation provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Translation is performed with a single chat completion: a fixed system
// prompt instructs the model to return only the translated text. Local
// backends such as Ollama make this a practical engine for offline use.
//
// Usage:
//
//	p, err := anyllm.New("ollama", "qwen2.5:7b")
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/lenslate/lenslate/pkg/provider/translate"
	"github.com/lenslate/lenslate/pkg/types"
)

// systemPrompt instructs the model to behave as a bare translation engine.
const systemPrompt = "You are a translation engine. Translate the user's text" +
	" from %s to %s. Output only the translated text with no quotes," +
	" explanations, or extra formatting. Preserve line breaks."

// engineConfidence is reported on successful translations. Chat models do not
// expose token-level probabilities through the unified interface, so a fixed
// score above the default dictionary persistence threshold is used.
const engineConfidence = 0.9

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

// Provider implements translate.Provider by wrapping any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "mistral".
// model is the specific model to use (e.g., "gpt-4o-mini", "qwen2.5:7b").
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option, the provider falls back
// to the relevant environment variable.
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral", providerName)
	}
}

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, text, srcLang, dstLang string) (types.TranslationUnit, error) {
	params := anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: fmt.Sprintf(systemPrompt, languageName(srcLang), languageName(dstLang))},
			{Role: anyllmlib.RoleUser, Content: text},
		},
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return types.TranslationUnit{}, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.TranslationUnit{}, fmt.Errorf("anyllm: empty choices in response")
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if translated == "" {
		return types.TranslationUnit{}, fmt.Errorf("anyllm: empty translation for %q", text)
	}

	return types.TranslationUnit{
		Source:     text,
		SourceLang: srcLang,
		TargetLang: dstLang,
		Translated: translated,
		Confidence: engineConfidence,
		Provenance: types.ProvenanceEngine,
	}, nil
}

// Close implements translate.Provider.
func (p *Provider) Close() error { return nil }

// languageName expands common ISO 639-1 codes to English names, which chat
// models follow more reliably than raw codes. Unknown codes pass through.
func languageName(code string) string {
	switch strings.ToLower(code) {
	case "en":
		return "English"
	case "ja":
		return "Japanese"
	case "de":
		return "German"
	case "fr":
		return "French"
	case "es":
		return "Spanish"
	case "zh":
		return "Chinese"
	case "ko":
		return "Korean"
	case "ru":
		return "Russian"
	case "pt":
		return "Portuguese"
	case "it":
		return "Italian"
	default:
		return code
	}
}
