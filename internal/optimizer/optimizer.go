// Package optimizer implements the pre/post processing hooks that decorate
// pipeline stages, plus the built-in optimizers: frame skip, text validation,
// text block merging, translation caching, dictionary learning, and chain
// translation.
//
// Optimizers attach to a stage [Chain] and run in registration order. A hook
// that returns an error (or panics) is logged and skipped; the chain
// continues with the value it had before that hook, so one broken optimizer
// never aborts a frame.
//
// Cross-cutting stores (cache, dictionary) are owned by the orchestrator and
// handed to optimizers as handles at construction; optimizers never reach
// back into the pipeline.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lenslate/lenslate/internal/observe"
	"github.com/lenslate/lenslate/internal/plugin"
	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/pkg/types"
)

// Data is the value flowing through a stage's hooks. Which fields are
// populated depends on the stage: capture hooks see Frame, OCR hooks see
// Frame and Blocks, translation hooks see Blocks and Units.
//
// Data is passed by value; hooks build new slices rather than mutating the
// ones they received.
type Data struct {
	// Frame is the tick's captured frame.
	Frame *types.Frame

	// Blocks is the recognized text awaiting translation.
	Blocks []types.TextBlock

	// Units is the translated output accumulated so far. Pre-translation
	// hooks that satisfy a block from cache or dictionary move it from
	// Blocks to Units.
	Units []types.TranslationUnit

	// SourceLang and TargetLang are the tick's language pair.
	SourceLang string
	TargetLang string

	// Skip marks the frame as unchanged; the orchestrator reuses the
	// previous tick's output instead of processing further stages.
	Skip bool
}

// Settings carries a plugin's effective setting values, already validated
// against its schema. Accessors fall back to the given default when the key
// is absent or has the wrong dynamic type.
type Settings map[string]any

// Float returns the float value for key, or def.
func (s Settings) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Int returns the int value for key, or def.
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Bool returns the bool value for key, or def.
func (s Settings) Bool(key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// String returns the string value for key, or def.
func (s Settings) String(key string, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// Optimizer is one pre/post processing unit attached to a pipeline stage.
// Implementations must be safe for concurrent use unless stated otherwise;
// stateful optimizers such as frame skip are driven from the single tick
// goroutine only.
type Optimizer interface {
	// Name returns the plugin name this optimizer is registered under.
	Name() string

	// Init applies validated settings. Called once before the first hook.
	Init(settings Settings) error

	// Pre transforms a stage's input.
	Pre(ctx context.Context, d Data) (Data, error)

	// Post transforms a stage's output.
	Post(ctx context.Context, d Data) (Data, error)
}

// Nop is a pass-through base for optimizers that only implement one hook.
// Embed it and override what you need.
type Nop struct{}

// Init implements Optimizer.
func (Nop) Init(Settings) error { return nil }

// Pre implements Optimizer.
func (Nop) Pre(_ context.Context, d Data) (Data, error) { return d, nil }

// Post implements Optimizer.
func (Nop) Post(_ context.Context, d Data) (Data, error) { return d, nil }

// hookEntry is one registered optimizer plus the hook points it runs at.
type hookEntry struct {
	opt  Optimizer
	hook plugin.Hook
}

// Chain is the ordered optimizer list for one pipeline stage. Register with
// [Chain.Add]; run with [Chain.RunPre] / [Chain.RunPost]. Not safe for
// concurrent registration after the pipeline has started.
type Chain struct {
	stage  plugin.Stage
	logger *slog.Logger
	hooks  []hookEntry
}

// NewChain creates an empty chain for stage. logger may be nil.
func NewChain(stage plugin.Stage, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{stage: stage, logger: logger}
}

// Add registers o to run at hook. [plugin.HookGlobal] runs at both pre and
// post. Optimizers run in registration order.
func (c *Chain) Add(o Optimizer, hook plugin.Hook) {
	c.hooks = append(c.hooks, hookEntry{opt: o, hook: hook})
}

// Len returns the number of registered optimizers.
func (c *Chain) Len() int { return len(c.hooks) }

// RunPre applies every pre hook in order. A failing hook leaves the value as
// it was before that hook.
func (c *Chain) RunPre(ctx context.Context, d Data) Data {
	for _, h := range c.hooks {
		if h.hook != plugin.HookPre && h.hook != plugin.HookGlobal {
			continue
		}
		d = c.apply(ctx, h.opt, h.opt.Pre, "pre", d)
	}
	return d
}

// RunPost applies every post hook in order. A failing hook leaves the value
// as it was before that hook.
func (c *Chain) RunPost(ctx context.Context, d Data) Data {
	for _, h := range c.hooks {
		if h.hook != plugin.HookPost && h.hook != plugin.HookGlobal {
			continue
		}
		d = c.apply(ctx, h.opt, h.opt.Post, "post", d)
	}
	return d
}

// apply runs one hook with error and panic isolation.
func (c *Chain) apply(ctx context.Context, o Optimizer, fn func(context.Context, Data) (Data, error), hook string, d Data) Data {
	out, err := c.safeCall(ctx, fn, d)
	if err != nil {
		c.logger.Error("optimizer hook failed, continuing with unmodified value",
			"stage", c.stage, "optimizer", o.Name(), "hook", hook, "err", err)
		return d
	}
	return out
}

// safeCall invokes fn, converting a panic into an error.
func (c *Chain) safeCall(ctx context.Context, fn func(context.Context, Data) (Data, error), d Data) (out Data, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, d)
}

// Deps bundles the orchestrator-owned store handles that built-in optimizers
// need.
type Deps struct {
	Cache      *store.Cache
	Dictionary *store.Dictionary
	Metrics    *observe.Metrics
	Logger     *slog.Logger
}

// Build constructs a built-in optimizer by plugin name. Returns false for
// names this build does not provide.
func Build(name string, deps Deps) (Optimizer, bool) {
	switch name {
	case NameFrameSkip:
		return NewFrameSkip(), true
	case NameTextValidator:
		return NewTextValidator(deps.Dictionary), true
	case NameTextMerger:
		return NewTextMerger(), true
	case NameTranslationCache:
		return NewCacheHook(deps.Cache, deps.Metrics), true
	case NameLearningDictionary:
		return NewDictionaryHook(deps.Dictionary), true
	default:
		return nil, false
	}
}
