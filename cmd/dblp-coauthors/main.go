// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the dblp-coauthors CLI.
// build runs the ingestion pipeline; resolve, pairs, stats, health and
// files read the resulting database.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/internal/logging"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the dblp-coauthors CLI.
var rootCmd = &cobra.Command{
	Use:   "dblp-coauthors",
	Short: "Index the DBLP corpus and query co-authorships",
	Long: `dblp-coauthors downloads the DBLP XML corpus, builds a SQLite database
with full-text indexes over titles and author names, and answers
co-authorship queries between two lists of authors.

Run "build" once to create the database, then use "resolve" and "pairs"
to query it. Queries can run while a rebuild is in progress.

The exit status is 2 for a rejected request and 3 when the database is
missing or has an incompatible schema.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./dblp-coauthors.yaml or ~/.config/dblp-coauthors/dblp-coauthors.yaml)")
	pf.String("data-dir", "data", "directory for downloads and the database")
	pf.String("db-path", "", "database path (default: <data-dir>/dblp.sqlite)")
	pf.String("log-level", "info", "log level: debug, info, warn, error, none")
	pf.String("log-format", logging.FormatText, "log format: text or json")
	pf.Duration("busy-timeout", types.DefaultBusyTimeout, "how long readers wait on a locked database")
	pf.Int("max-limit", types.DefaultMaxLimit, "upper bound for publications listed per pair")
	pf.Int("max-entries-per-side", types.DefaultMaxEntriesPerSide, "maximum authors per side of a pairs query")
	pf.Int("max-author-resolve", types.DefaultMaxAuthorResolve, "maximum author ids resolved per name")
	pf.String("data-date", "", "date reported by stats (default: database modification date)")

	for key, flag := range map[string]string{
		"data_dir":             "data-dir",
		"db_path":              "db-path",
		"log_level":            "log-level",
		"log_format":           "log-format",
		"busy_timeout":         "busy-timeout",
		"max_limit":            "max-limit",
		"max_entries_per_side": "max-entries-per-side",
		"max_author_resolve":   "max-author-resolve",
		"data_date":            "data-date",
	} {
		viper.BindPFlag(key, pf.Lookup(flag))
	}
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dblp-coauthors")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "dblp-coauthors"))
		}
	}

	viper.SetEnvPrefix("DBLP_COAUTHORS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the logger selected by log_level and log_format.
func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log_format"), viper.GetString("log_level"))
}

// dbPath returns db_path, defaulting to dblp.sqlite in data_dir.
func dbPath() string {
	if p := viper.GetString("db_path"); p != "" {
		return p
	}
	return filepath.Join(viper.GetString("data_dir"), "dblp.sqlite")
}

// serviceConfig assembles the read-path configuration.
func serviceConfig() types.ServiceConfig {
	return types.ServiceConfig{
		DBPath:            dbPath(),
		DataDir:           viper.GetString("data_dir"),
		BusyTimeout:       viper.GetDuration("busy_timeout"),
		MaxLimit:          viper.GetInt("max_limit"),
		MaxEntriesPerSide: viper.GetInt("max_entries_per_side"),
		MaxAuthorResolve:  viper.GetInt("max_author_resolve"),
		DataDate:          viper.GetString("data_date"),
	}.WithDefaults()
}

// Exit statuses beyond the generic failure.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitUnavailable = 3
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case apperr.IsClientError(err):
		return exitUsage
	case apperr.IsUnavailable(err):
		return exitUnavailable
	default:
		return exitFailure
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
