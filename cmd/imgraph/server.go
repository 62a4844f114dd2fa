package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/imgraph/internal/analyzer"
	"github.com/kalambet/imgraph/internal/api"
	"github.com/kalambet/imgraph/internal/config"
	"github.com/kalambet/imgraph/internal/engine"
	"github.com/kalambet/imgraph/internal/scan"
	"github.com/kalambet/imgraph/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the imgraph server (foreground)",
	Long: `Run the imgraph server in the foreground.

The HTTP control surface listens on 127.0.0.1 at server.port. With --mcp the
scan and graph tools are also served over MCP on stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func runServer(withMCP bool) error {
	// stdout belongs to MCP in --mcp mode, so all human output goes to stderr.
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.Ollama.CaptionModel, cfg.Ollama.OCRModel, cfg.Ollama.EmbedModel); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	orch := analyzer.New(eng, analyzer.Config{
		CaptionModel: cfg.Ollama.CaptionModel,
		OCRModel:     cfg.Ollama.OCRModel,
		EmbedModel:   cfg.Ollama.EmbedModel,
		Dimensions:   cfg.Embedding.Dimensions,
	})
	scanner := scan.NewController(orch, store)

	deps := api.Deps{
		Scanner:          scanner,
		Store:            store,
		Remote:           cfg.Remote,
		OllamaURL:        cfg.Ollama.BaseURL,
		DefaultThreshold: cfg.Graph.SimilarityThreshold,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "imgraph listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	stop() // ends the MCP listener too
	if err := shutdown(srv, scanner, 5*time.Second); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

type scanStopper interface {
	Stop() bool
	Wait()
}

// shutdown stops accepting requests first so no new scan can start, then
// lets the item in flight finish before the caller closes the store.
func shutdown(srv httpShutdowner, scanner scanStopper, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.Shutdown(ctx)

	if scanner.Stop() {
		slog.Info("waiting for the running scan to stop")
	}
	scanner.Wait()
	return err
}
