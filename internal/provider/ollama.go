package provider

import (
	"context"
	"fmt"

	"github.com/kalambet/imgraph/internal/engine"
)

// Ollama describes content with a vision model on an Ollama server reachable
// over the local network (not necessarily the one used for local analysis).
type Ollama struct {
	eng   engine.Engine
	model string
}

// NewOllama creates a describer targeting the Ollama server at baseURL.
func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{eng: engine.NewOllamaEngine(baseURL), model: model}
}

func (o *Ollama) Name() string { return string(KindOllama) }

// describeSchema constrains the reply to the keys the analyzer parses.
var describeSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"caption": {Type: "string", Description: "one sentence describing the image"},
		"summary": {Type: "string", Description: "one sentence summarizing the text"},
		"tags":    {Type: "array", Description: "short lowercase keywords"},
	},
	Required: []string{"tags"},
}

func (o *Ollama) Describe(ctx context.Context, req Request) (string, error) {
	msg := engine.Message{Role: "user", Content: req.Prompt}
	if len(req.Image) > 0 {
		msg.Images = [][]byte{req.Image}
	}
	out, err := o.eng.Chat(ctx, o.model, []engine.Message{msg}, engine.ChatOptions{
		Schema:    describeSchema,
		MaxTokens: maxTokens(req.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return out, nil
}
