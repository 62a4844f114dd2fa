package config

import (
	"fmt"
	"strings"

	"github.com/kalambet/imgraph/internal/provider"
)

// keychainService is the service name under which secrets are stored.
const keychainService = "imgraph"

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Remote    RemoteConfig
	Graph     GraphConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL      string
	CaptionModel string
	OCRModel     string
	EmbedModel   string
}

// EmbeddingConfig fixes the vector size for a deployment. Dimensions 0
// accepts whatever the embed model returns.
type EmbeddingConfig struct {
	Dimensions int
}

type StorageConfig struct {
	DataDir string
}

// RemoteConfig holds the default remote provider used when a scan request
// does not name one, plus the per-provider API keys.
type RemoteConfig struct {
	Provider         string
	Model            string
	BaseURL          string
	GeminiAPIKey     string
	AnthropicAPIKey  string
	OpenRouterAPIKey string
}

// APIKey returns the configured key for the named provider.
func (r RemoteConfig) APIKey(kind provider.Kind) string {
	switch kind {
	case provider.KindGemini:
		return r.GeminiAPIKey
	case provider.KindAnthropic:
		return r.AnthropicAPIKey
	case provider.KindOpenRouter:
		return r.OpenRouterAPIKey
	}
	return ""
}

type GraphConfig struct {
	SimilarityThreshold float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			CaptionModel: "llava",
			OCRModel:     "llava",
			EmbedModel:   "nomic-embed-text",
		},
		Embedding: EmbeddingConfig{
			Dimensions: 768,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Remote: RemoteConfig{
			Provider: string(provider.KindNone),
		},
		Graph: GraphConfig{
			SimilarityThreshold: 0.7,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.imgraph.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/imgraph/config.json
// and secrets fall back to $XDG_DATA_HOME/imgraph/secrets.json.
//
// Environment variables (IMGRAPH_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Remote keys are optional; a missing key only means remote analysis
	// falls back to local models.
	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if key, err := kc.Get(keychainService, s.account); err == nil && key != "" {
			s.apply(&cfg, key)
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Embedding.Dimensions < 0 {
		return fmt.Errorf("invalid embedding.dimensions %d: must be >= 0", cfg.Embedding.Dimensions)
	}
	if t := cfg.Graph.SimilarityThreshold; t < -1 || t > 1 {
		return fmt.Errorf("invalid graph.similarity_threshold %v: must be within [-1, 1]", t)
	}
	if _, err := provider.ParseKind(cfg.Remote.Provider); err != nil {
		return fmt.Errorf("invalid remote.provider: %w", err)
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
