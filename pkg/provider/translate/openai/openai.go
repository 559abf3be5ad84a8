// Package openai provides a translation provider backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/lenslate/lenslate/pkg/provider/translate"
	"github.com/lenslate/lenslate/pkg/types"
)

// systemPrompt instructs the model to behave as a bare translation engine.
const systemPrompt = "You are a translation engine. Translate the user's text" +
	" from %s to %s. Output only the translated text with no quotes," +
	" explanations, or extra formatting. Preserve line breaks."

// engineConfidence is reported on successful translations; the chat API does
// not expose a usable per-completion confidence.
const engineConfidence = 0.9

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

// Provider implements translate.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI translation Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, text, srcLang, dstLang string) (types.TranslationUnit, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(fmt.Sprintf(systemPrompt, srcLang, dstLang)),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return types.TranslationUnit{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.TranslationUnit{}, fmt.Errorf("openai: empty choices in response")
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return types.TranslationUnit{}, fmt.Errorf("openai: empty translation for %q", text)
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
