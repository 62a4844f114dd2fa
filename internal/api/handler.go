package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/imgraph/internal/analyzer"
	"github.com/kalambet/imgraph/internal/config"
	"github.com/kalambet/imgraph/internal/discovery"
	"github.com/kalambet/imgraph/internal/graph"
	"github.com/kalambet/imgraph/internal/provider"
	"github.com/kalambet/imgraph/internal/scan"
	"github.com/kalambet/imgraph/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

var (
	errInvalidThreshold = errors.New("similarity threshold must be within [-1, 1]")
	errBusy             = errors.New("cannot reset while a scan is running")
)

// Scanner is the scan lifecycle as seen by the control surface.
type Scanner interface {
	Start(ctx context.Context, root string, opts analyzer.Options) (scan.Started, error)
	Stop() bool
	Progress() scan.Progress
	Running() bool
	WhenIdle(fn func() error) error
}

// ItemStore is the read and reset side of the store.
type ItemStore interface {
	graph.Source
	GetItem(id int64) (storage.Item, error)
	Clear() error
}

// Deps holds dependencies shared by the HTTP and MCP surfaces.
type Deps struct {
	Scanner Scanner
	Store   ItemStore
	// Remote supplies defaults for scan options a request leaves out.
	Remote config.RemoteConfig
	// OllamaURL is used when the ollama provider is chosen without a base URL.
	OllamaURL        string
	DefaultThreshold float64
}

// ScanRequest starts a scan of Path.
type ScanRequest struct {
	Path      string `json:"path"`
	UseRemote bool   `json:"use_remote"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
}

// NewHandler returns the HTTP control surface.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/scan", handleStartScan(deps))
	r.Post("/scan/stop", handleStopScan(deps))
	r.Get("/progress", handleProgress(deps))
	r.Get("/graph", handleGraph(deps))
	r.Get("/export", handleExport(deps))
	r.Get("/items/{id}", handleGetItem(deps))
	r.Get("/items/{id}/content", handleItemContent(deps))
	r.Delete("/items", handleReset(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStartScan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		opts, err := resolveOptions(req, deps)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		started, err := deps.Scanner.Start(r.Context(), req.Path, opts)
		var rootErr *discovery.InvalidRootError
		switch {
		case errors.Is(err, scan.ErrScanRunning):
			httpError(w, http.StatusConflict, "conflict_error", "%v", err)
			return
		case errors.As(err, &rootErr):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start scan: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "started",
			"scan_id": started.ScanID,
			"total":   started.Total,
		})
	}
}

func handleStopScan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Scanner.Stop() {
			httpError(w, http.StatusConflict, "conflict_error", "%v", scan.ErrNotScanning)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	}
}

func handleProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Scanner.Progress())
	}
}

func handleGraph(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threshold, err := parseThreshold(r.URL.Query().Get("sim_threshold"), deps.DefaultThreshold)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		g, err := graph.NewBuilder(deps.Store).Build(threshold)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build graph: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"elements": g.Elements()})
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := graph.NewBuilder(deps.Store).Build(deps.DefaultThreshold)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build graph: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"graph": g.Elements()})
	}
}

func handleGetItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, ok := lookupItem(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleItemContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, ok := lookupItem(w, r, deps)
		if !ok {
			return
		}
		fi, err := os.Stat(item.Path)
		if err != nil || !fi.Mode().IsRegular() {
			httpError(w, http.StatusNotFound, "not_found", "file for item %d not found on disk", item.ID)
			return
		}
		http.ServeFile(w, r, item.Path)
	}
}

func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reset(deps); err != nil {
			if errors.Is(err, errBusy) {
				httpError(w, http.StatusConflict, "conflict_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset store: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func lookupItem(w http.ResponseWriter, r *http.Request, deps Deps) (storage.Item, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid item id %q", chi.URLParam(r, "id"))
		return storage.Item{}, false
	}
	item, err := deps.Store.GetItem(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "item not found")
		return storage.Item{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
		return storage.Item{}, false
	}
	return item, true
}

// reset clears the store with the scanner held idle, so a scan cannot start
// between the check and the delete.
func reset(deps Deps) error {
	err := deps.Scanner.WhenIdle(deps.Store.Clear)
	if errors.Is(err, scan.ErrScanRunning) {
		return errBusy
	}
	return err
}

// resolveOptions fills the remote fields a request leaves empty from config.
// Model and base URL defaults only apply when the request uses the configured
// provider.
func resolveOptions(req ScanRequest, deps Deps) (analyzer.Options, error) {
	if !req.UseRemote {
		return analyzer.Options{}, nil
	}

	name := req.Provider
	if name == "" {
		name = deps.Remote.Provider
	}
	kind, err := provider.ParseKind(name)
	if err != nil {
		return analyzer.Options{}, err
	}

	opts := analyzer.Options{
		UseRemote:   true,
		Provider:    kind,
		Model:       req.Model,
		Credentials: req.APIKey,
		BaseURL:     req.BaseURL,
	}
	if opts.Credentials == "" {
		opts.Credentials = deps.Remote.APIKey(kind)
	}
	if string(kind) == deps.Remote.Provider {
		if opts.Model == "" {
			opts.Model = deps.Remote.Model
		}
		if opts.BaseURL == "" {
			opts.BaseURL = deps.Remote.BaseURL
		}
	}
	if kind == provider.KindOllama && opts.BaseURL == "" {
		opts.BaseURL = deps.OllamaURL
	}
	return opts, nil
}

func parseThreshold(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sim_threshold %q", raw)
	}
	if math.IsNaN(t) || t < -1 || t > 1 {
		return 0, errInvalidThreshold
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
