package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/imgraph/internal/api"
	"github.com/kalambet/imgraph/internal/config"
	"github.com/kalambet/imgraph/internal/scan"
)

// --- scan ---

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Start scanning a directory",
	Long: `Start scanning a directory on the server.

Examples:
  imgraph scan ~/Pictures
  imgraph scan ~/notes --remote --provider gemini
  imgraph scan ./shots --remote --provider ollama --model llava:13b`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving %s: %w", args[0], err)
		}

		req := api.ScanRequest{Path: root}
		req.UseRemote, _ = cmd.Flags().GetBool("remote")
		req.Provider, _ = cmd.Flags().GetString("provider")
		req.Model, _ = cmd.Flags().GetString("model")
		req.BaseURL, _ = cmd.Flags().GetString("base-url")
		if req.Provider != "" || req.Model != "" {
			req.UseRemote = true
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/scan", req)
		if err != nil {
			return err
		}
		var started scan.Started
		if err := decodeJSON(resp, &started); err != nil {
			return err
		}

		printSuccess("Scan %s started: %d files in %s", started.ScanID, started.Total, root)
		return nil
	},
}

func init() {
	scanCmd.Flags().Bool("remote", false, "analyze with the configured remote provider")
	scanCmd.Flags().String("provider", "", "remote provider: gemini, anthropic, openrouter, ollama, none")
	scanCmd.Flags().String("model", "", "remote model name")
	scanCmd.Flags().String("base-url", "", "remote provider base URL")
}

// --- stop ---

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running scan after the current file",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/scan/stop", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Stop requested")
		return nil
	},
}

// --- progress ---

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show scan progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = time.Second
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		seen := 0
		for {
			resp, err := client.get(cmd.Context(), "/progress")
			if err != nil {
				return err
			}
			var p scan.Progress
			if err := decodeJSON(resp, &p); err != nil {
				return err
			}

			if !watch {
				printProgress(cmd.OutOrStdout(), p, true)
				return nil
			}

			// The log is a sliding window; print only lines not shown yet.
			seen = printNewLog(cmd.OutOrStdout(), p.Log, seen)
			if p.Status != scan.StatusScanning {
				printProgress(cmd.OutOrStdout(), p, false)
				return nil
			}

			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(interval):
			}
		}
	},
}

func init() {
	progressCmd.Flags().Bool("watch", false, "poll until the scan finishes")
	progressCmd.Flags().Duration("interval", time.Second, "poll interval with --watch")
}

func printProgress(w io.Writer, p scan.Progress, withLog bool) {
	status := p.Status
	if status == scan.StatusScanning {
		status = yellow(status)
	} else {
		status = green(status)
	}
	fmt.Fprintf(w, "%s %s\n", bold("Status:"), status)
	fmt.Fprintf(w, "%s %d/%d\n", bold("Processed:"), p.Processed, p.Total)
	if p.Current != "" {
		fmt.Fprintf(w, "%s %s\n", bold("Current:"), p.Current)
	}
	if withLog {
		for _, line := range p.Log {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

// printNewLog prints log lines past the first seen and returns the new count.
// When the window has slid past what was seen, only the tail is printed.
func printNewLog(w io.Writer, log []string, seen int) int {
	if seen > len(log) {
		seen = 0
	}
	for _, line := range log[seen:] {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return len(log)
}

// --- graph ---

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build the concept graph and print it as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		path := "/graph"
		if cmd.Flags().Changed("threshold") {
			t, _ := cmd.Flags().GetFloat64("threshold")
			if t < -1 || t > 1 {
				return fmt.Errorf("--threshold must be within [-1, 1], got %v", t)
			}
			path += "?sim_threshold=" + url.QueryEscape(strconv.FormatFloat(t, 'f', -1, 64))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var result struct {
			Elements []json.RawMessage `json:"elements"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		writer := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("writing graph: %w", err)
		}
		if output != "" {
			printSuccess("Graph with %d elements written to %s", len(result.Elements), output)
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().Float64("threshold", 0, "cosine similarity threshold in [-1, 1] for similar edges; the server default applies when unset")
	graphCmd.Flags().String("output", "", "output file path (default: stdout)")
}

// --- item ---

var itemCmd = &cobra.Command{
	Use:   "item <id>",
	Short: "Show stored metadata for one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/items/%d", id))
		if err != nil {
			return err
		}
		var item any
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	},
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every stored item",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL stored items. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Clearing store...")
		resp, err := client.delete(cmd.Context(), "/items")
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Store cleared")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("confirm", false, "confirm deleting all items")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", bold(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:               "set <key> <value>",
	Short:             "Set a configuration value",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeKeys(config.ValidKeys),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:               "unset <key>",
	Short:             "Remove a configuration value so its default applies",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeKeys(config.ValidKeys),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:               "set-secret <key> <value>",
	Short:             "Store an API key in the platform secret store",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeKeys(config.SecretKeys),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

// completeKeys completes the first argument from keys.
func completeKeys(keys func() []string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return keys(), cobra.ShellCompDirectiveNoFileComp
	}
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
