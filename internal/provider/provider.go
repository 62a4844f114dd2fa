// Package provider wraps the remote AI services that can describe an image or
// summarize a text file. Every backend implements Describer and returns the
// raw response text; parsing is left to the caller.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredentials is returned when a provider needs an API key or
	// base URL that was not supplied.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrUnknownProvider is returned for provider names outside Kinds.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Kind names a remote provider.
type Kind string

const (
	KindNone       Kind = "none"
	KindGemini     Kind = "gemini"
	KindOllama     Kind = "ollama"
	KindAnthropic  Kind = "anthropic"
	KindOpenRouter Kind = "openrouter"
)

// Kinds lists every accepted provider name.
var Kinds = []Kind{KindNone, KindGemini, KindOllama, KindAnthropic, KindOpenRouter}

// ParseKind maps a user-supplied name to a Kind. The empty string maps to KindNone.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindNone, nil
	}
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(k Kind) string {
	switch k {
	case KindGemini:
		return "gemini-1.5-flash"
	case KindAnthropic:
		return "claude-3-5-haiku-latest"
	case KindOpenRouter:
		return "google/gemini-flash-1.5"
	case KindOllama:
		return "llava"
	}
	return ""
}

// Request is one describe call. Image is nil for text prompts.
type Request struct {
	Prompt    string
	Image     []byte
	MIMEType  string
	MaxTokens int
}

// Describer sends a prompt, optionally with an image, and returns the model's text.
type Describer interface {
	Describe(ctx context.Context, req Request) (string, error)
	Name() string
}

// Config selects and authenticates a provider.
type Config struct {
	Kind    Kind
	Model   string
	APIKey  string
	BaseURL string
}

const defaultMaxTokens = 1024

// New builds the Describer for cfg.Kind. Hosted providers require APIKey;
// the ollama provider requires BaseURL instead.
func New(ctx context.Context, cfg Config) (Describer, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel(cfg.Kind)
	}

	switch cfg.Kind {
	case KindGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini: %w", ErrMissingCredentials)
		}
		return NewGemini(ctx, cfg.APIKey, model, cfg.BaseURL)
	case KindAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrMissingCredentials)
		}
		return NewAnthropic(cfg.APIKey, model, cfg.BaseURL), nil
	case KindOpenRouter:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openrouter: %w", ErrMissingCredentials)
		}
		return NewOpenRouter(cfg.APIKey, model, cfg.BaseURL), nil
	case KindOllama:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("ollama: base url: %w", ErrMissingCredentials)
		}
		return NewOllama(cfg.BaseURL, model), nil
	case KindNone:
		return nil, fmt.Errorf("no remote provider configured: %w", ErrUnknownProvider)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Kind)
}

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
