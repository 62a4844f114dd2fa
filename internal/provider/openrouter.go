package provider

import (
	"context"
	"fmt"

	"github.com/kalambet/imgraph/internal/proxy"
)

// OpenRouter describes content through any vision model routed by OpenRouter.
type OpenRouter struct {
	client *proxy.Client
	model  string
}

// NewOpenRouter creates an OpenRouter describer. baseURL overrides the API endpoint when non-empty.
func NewOpenRouter(apiKey, model, baseURL string) *OpenRouter {
	return &OpenRouter{client: proxy.NewClientWithBaseURL(apiKey, baseURL), model: model}
}

func (o *OpenRouter) Name() string { return string(KindOpenRouter) }

func (o *OpenRouter) Describe(ctx context.Context, req Request) (string, error) {
	parts := []proxy.ContentPart{proxy.TextPart(req.Prompt)}
	if len(req.Image) > 0 {
		parts = append(parts, proxy.ImagePart(req.MIMEType, req.Image))
	}

	out, err := o.client.Complete(ctx, proxy.ChatRequest{
		Model:     o.model,
		Messages:  []proxy.Message{{Role: "user", Content: parts}},
		MaxTokens: maxTokens(req.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}
	return out, nil
}
