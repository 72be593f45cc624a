// Command triagectl drives the triage engine from a terminal without the
// HTTP service: classify text, score risk, build plans, run the interview
// and manage the offline cache.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/logging"
)

var (
	locale  string
	asJSON  bool
	verbose bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "triagectl",
	Short:         "Offline emergency triage from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&locale, "lang", "l", "de", "Locale for text output")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	cacheCmd.AddCommand(cacheSyncCmd)
	cacheCmd.AddCommand(cacheStatusCmd)

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(riskCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(interviewCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger, _ := logging.New(cmd.ErrOrStderr(), level, "")
	return logger
}

func loadCatalog() (*hazard.Catalog, error) {
	cat, err := hazard.Default()
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return cat, nil
}

// printJSON writes v indented. Commands call it when --json is set.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
