package engine

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/kalambet/imgraph/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			msgs[i].Images = append(msgs[i].Images, base64.StdEncoding.EncodeToString(img))
		}
	}

	o := ollama.ChatOptions{JSON: opts.JSON, NumPredict: opts.MaxTokens}
	if opts.Schema != nil {
		s := &ollama.Schema{
			Type:     opts.Schema.Type,
			Required: opts.Schema.Required,
		}
		if opts.Schema.Properties != nil {
			s.Properties = make(map[string]ollama.SchemaProperty, len(opts.Schema.Properties))
			for k, v := range opts.Schema.Properties {
				s.Properties[k] = ollama.SchemaProperty{Type: v.Type, Description: v.Description}
			}
		}
		o.Format = s
	}

	out, err := e.client.Chat(ctx, model, msgs, o)
	return out, hintPull(model, err)
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, model, text)
	return vec, hintPull(model, err)
}

// hintPull adds the pull command to errors for models the server lacks.
func hintPull(model string, err error) error {
	if err != nil && ollama.IsModelNotFound(err) {
		return fmt.Errorf("%w (run: ollama pull %s)", err, model)
	}
	return err
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
