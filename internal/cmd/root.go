// Package cmd wires the dashboard together: flags, database, auth, sync
// worker, and the HTTP API.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rundash/internal/logging"
)

var (
	verbosity    int
	dbPath       string
	httpPort     int
	tzOffset     int
	syncInterval time.Duration
	noSync       bool
	forceReauth  bool
	aiAPIKey     string
	aiBaseURL    string
	aiModel      string
)

var rootCmd = &cobra.Command{
	Use:   "rundash",
	Short: "Personal running dashboard - sync activities to SQLite and serve them locally",
	Long: `rundash syncs running activities from the provider API to a local SQLite
database and serves summaries, trends, a training calendar, and per-run
analysis over a local HTTP API.

On first run you will be prompted for your provider API credentials and a
browser window opens for authorization. Use --force-reauth to redo this.

AI-generated run analysis is optional: set --ai-api-key (or RUNDASH_AI_API_KEY)
to enable it.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logging.Level(verbosity))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(&RuntimeConfig{
			DBPath:       dbPath,
			HTTPPort:     httpPort,
			TZOffset:     tzOffset,
			SyncInterval: syncInterval,
			NoSync:       noSync,
			ForceReauth:  forceReauth,
			AIAPIKey:     aiAPIKey,
			AIBaseURL:    aiBaseURL,
			AIModel:      aiModel,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for debug, -vv for trace with HTTP details)")

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "rundash.db", "path to SQLite database file")
	rootCmd.PersistentFlags().IntVarP(&httpPort, "port", "p", 8080, "HTTP API port")
	rootCmd.PersistentFlags().IntVar(&tzOffset, "tz-offset", 8, "fixed UTC offset in hours for calendar bucketing")
	rootCmd.PersistentFlags().DurationVar(&syncInterval, "sync-interval", 30*time.Minute, "interval between background activity syncs")

	rootCmd.PersistentFlags().BoolVar(&noSync, "no-sync", false, "serve stored data only, without provider API sync")
	rootCmd.PersistentFlags().BoolVar(&forceReauth, "force-reauth", false, "force OAuth re-authentication, clearing stored credentials")

	rootCmd.PersistentFlags().StringVar(&aiAPIKey, "ai-api-key", os.Getenv("RUNDASH_AI_API_KEY"), "API key for the analysis generator (empty disables analysis)")
	rootCmd.PersistentFlags().StringVar(&aiBaseURL, "ai-base-url", os.Getenv("RUNDASH_AI_BASE_URL"), "base URL of an OpenAI-compatible endpoint")
	rootCmd.PersistentFlags().StringVar(&aiModel, "ai-model", os.Getenv("RUNDASH_AI_MODEL"), "model name for analysis generation")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
