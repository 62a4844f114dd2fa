package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret store account name, secrets only
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "IMGRAPH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "IMGRAPH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.caption_model", typ: kString, env: "IMGRAPH_OLLAMA_CAPTION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.CaptionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.CaptionModel },
	},
	{
		key: "ollama.ocr_model", typ: kString, env: "IMGRAPH_OLLAMA_OCR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.OCRModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.OCRModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "IMGRAPH_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "IMGRAPH_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "storage.data_dir", typ: kString, env: "IMGRAPH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "remote.provider", typ: kString, env: "IMGRAPH_REMOTE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Remote.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Provider },
	},
	{
		key: "remote.model", typ: kString, env: "IMGRAPH_REMOTE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Remote.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Model },
	},
	{
		key: "remote.base_url", typ: kString, env: "IMGRAPH_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.gemini_api_key", typ: kString, env: "IMGRAPH_GEMINI_API_KEY",
		secret: true, account: "gemini_api_key",
		apply:   func(cfg *Config, v any) { cfg.Remote.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.GeminiAPIKey },
	},
	{
		key: "remote.anthropic_api_key", typ: kString, env: "IMGRAPH_ANTHROPIC_API_KEY",
		secret: true, account: "anthropic_api_key",
		apply:   func(cfg *Config, v any) { cfg.Remote.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.AnthropicAPIKey },
	},
	{
		key: "remote.openrouter_api_key", typ: kString, env: "IMGRAPH_OPENROUTER_API_KEY",
		secret: true, account: "openrouter_api_key",
		apply:   func(cfg *Config, v any) { cfg.Remote.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.OpenRouterAPIKey },
	},
	{
		key: "graph.similarity_threshold", typ: kFloat, env: "IMGRAPH_GRAPH_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Graph.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Graph.SimilarityThreshold },
	},
	{
		key: "log.level", typ: kString, env: "IMGRAPH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
