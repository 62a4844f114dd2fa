//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newPlatformBackend()
	if err := b.SetInt("server.port", 4300); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetFloat("graph.similarity_threshold", 0.55); err != nil {
		t.Fatalf("SetFloat: %v", err)
	}
	if err := b.SetString("remote.provider", "anthropic"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	// A fresh backend reads what the first one saved.
	b = newPlatformBackend()
	if v, ok, err := b.GetInt("server.port"); err != nil || !ok || v != 4300 {
		t.Errorf("GetInt = %d, %v, %v", v, ok, err)
	}
	if v, ok, err := b.GetFloat("graph.similarity_threshold"); err != nil || !ok || v != 0.55 {
		t.Errorf("GetFloat = %v, %v, %v", v, ok, err)
	}
	if v, ok, _ := b.GetString("remote.provider"); !ok || v != "anthropic" {
		t.Errorf("GetString = %q, %v", v, ok)
	}

	if err := b.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newPlatformBackend().GetInt("server.port"); ok {
		t.Error("server.port still present after Delete")
	}
}

func TestFileBackendRejectsFractionalInt(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "imgraph", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"server.port": 80.5}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := newPlatformBackend().GetInt("server.port"); err == nil {
		t.Error("expected error for fractional port")
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainExec(keychainService, "gemini_api_key"); err == nil {
		t.Error("expected error before any secret is stored")
	}
	if err := keychainSet(keychainService, "gemini_api_key", "g-key"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	got, err := keychainReader{}.Get(keychainService, "gemini_api_key")
	if err != nil || got != "g-key" {
		t.Errorf("Get = %q, %v", got, err)
	}
	if _, err := keychainExec(keychainService, "anthropic_api_key"); err == nil {
		t.Error("expected error for an account that was never stored")
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}
}
