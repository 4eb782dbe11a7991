package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/auditparse/internal/api"
	"github.com/jackzampolin/auditparse/internal/config"
	"github.com/jackzampolin/auditparse/internal/home"
	"github.com/jackzampolin/auditparse/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "auditparse",
	Short: "Recover structured audit report records from slide decks and PDFs",
	Long: `auditparse reads a directory of generated audit reports (.pptx or .pdf),
sends their text to an extraction service in small batches, and writes one
validated report record per document to a single JSON file.

Each record has a title, executive summary, overall rating (ADEQUATE,
FOR IMPROVEMENT, INADEQUATE), a findings table, recommendations, and a
management action plan. Documents that cannot be recovered still get a
record, marked unresolved.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.auditparse/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "auditparse home directory (default: ~/.auditparse)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	// Set output format and logging before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := api.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		api.SetOutputFormat(format)

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(traceCmd)
}

// loadEnv reads .env from the working directory and the home directory.
// Variables already set in the environment win.
func loadEnv(h *home.Dir) {
	for _, path := range []string{".env", h.EnvPath()} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("failed to load env file", "path", path, "error", err)
			continue
		}
		slog.Debug("loaded env file", "path", path)
	}
}

// loadConfig resolves the home directory, loads .env files, and reads the
// configuration.
func loadConfig() (*config.Manager, *home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	loadEnv(h)

	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, nil, err
	}
	mgr.SetLogger(slog.Default())
	if f := mgr.ConfigFile(); f != "" {
		slog.Debug("using config file", "path", f)
	}
	return mgr, h, nil
}
