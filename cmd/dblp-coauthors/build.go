// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/dblp-coauthors/internal/pipeline"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

const defaultUserAgent = "dblp-coauthors/0.1"

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Download the DBLP corpus and build the database",
	Long: `Build downloads the DBLP DTD and the compressed XML corpus, decompresses it,
and indexes every publication into a SQLite database with full-text indexes.

Downloads are only accepted from the allowed hosts (dblp.org and
dblp.uni-trier.de unless --allowed-host is given). Interrupting the command
stops the run at the next chunk or record and rolls back the open batch.`,
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.String("xml-gz-url", types.DefaultXMLGzURL, "URL of the gzip-compressed corpus")
	f.String("dtd-url", types.DefaultDTDURL, "URL of the corpus DTD")
	f.Int("batch-size", types.DefaultBatchSize, "records committed per transaction (>= 100)")
	f.Int("progress-every", types.DefaultProgressEvery, "records between progress reports (>= 1000)")
	f.Bool("rebuild", true, "remove the existing database before building")
	f.StringSlice("allowed-host", nil, "host downloads may come from (repeatable)")
	f.Duration("timeout", 0, "HTTP connect, header and idle-read timeout (default 120s)")
	f.Int("max-retries", 3, "retries on HTTP 429/503")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile when the run ends")
	f.Int("max-log-lines", types.DefaultMaxLogLines, "log lines kept in the run state")
	f.Bool("yaml", false, "print the final run state as YAML")

	for key, flag := range map[string]string{
		"xml_gz_url":     "xml-gz-url",
		"dtd_url":        "dtd-url",
		"batch_size":     "batch-size",
		"progress_every": "progress-every",
		"rebuild":        "rebuild",
		"allowed_hosts":  "allowed-host",
		"http_timeout":   "timeout",
		"max_retries":    "max-retries",
		"metrics_file":   "metrics-file",
		"max_log_lines":  "max-log-lines",
	} {
		viper.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(buildCmd)
}

// pipelineConfig assembles the run configuration. The database must live in
// the data directory.
func pipelineConfig() (types.PipelineConfig, error) {
	cfg := types.PipelineConfig{
		XMLGzURL:      viper.GetString("xml_gz_url"),
		DTDURL:        viper.GetString("dtd_url"),
		DataDir:       viper.GetString("data_dir"),
		BatchSize:     viper.GetInt("batch_size"),
		ProgressEvery: viper.GetInt("progress_every"),
		Rebuild:       viper.GetBool("rebuild"),
	}
	db := dbPath()
	if filepath.Clean(filepath.Dir(db)) != filepath.Clean(cfg.DataDir) {
		return cfg, fmt.Errorf("db_path %s must be inside data_dir %s for build", db, cfg.DataDir)
	}
	cfg.DBName = filepath.Base(db)
	return cfg.WithDefaults(), nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := pipelineConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	httpCfg := types.HTTPConfig{
		Timeout:      viper.GetDuration("http_timeout"),
		UserAgent:    defaultUserAgent,
		AllowedHosts: viper.GetStringSlice("allowed_hosts"),
		MaxRetries:   viper.GetInt("max_retries"),
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMaxLogLines(viper.GetInt("max_log_lines")),
	}
	if path := viper.GetString("metrics_file"); path != "" {
		opts = append(opts, pipeline.WithMetrics(pipeline.NewMetrics()), pipeline.WithMetricsTextfile(path))
	}
	runner := pipeline.NewRunner(pipeline.New(httpCfg, logger), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := runner.Start(cfg); err != nil {
		return err
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "Stopping...")
			runner.Stop()
		case <-finished:
		}
	}()
	final, err := runner.Wait(context.Background())
	close(finished)
	if err != nil {
		return err
	}

	asYAML, _ := cmd.Flags().GetBool("yaml")
	if err := printRunState(cmd.OutOrStdout(), final, asYAML); err != nil {
		return err
	}

	switch final.Status {
	case types.StatusCompleted:
		return nil
	case types.StatusStopped:
		return fmt.Errorf("build stopped before completion")
	default:
		return fmt.Errorf("build failed: %s", final.Message)
	}
}

func printRunState(w io.Writer, st types.PipelineState, asYAML bool) error {
	if asYAML {
		data, err := yaml.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshaling run state: %w", err)
		}
		_, err = w.Write(data)
		return err
	}

	fmt.Fprintf(w, "Run %s: %s\n", st.RunID, st.Status)
	if st.Result == nil {
		return nil
	}
	r := st.Result
	fmt.Fprintf(w, "  Records:   %d\n", r.ProcessedRecords)
	fmt.Fprintf(w, "  Elapsed:   %.2fs (build %.2fs, %.2f records/s)\n", r.ElapsedSeconds, r.BuildSeconds, r.RecordsPerSec)
	fmt.Fprintf(w, "  Database:  %s\n", r.DBPath)
	return nil
}
