// Command thalamusdb is the ThalamusDB entrypoint: a Cobra CLI exposing a
// single "repl" subcommand that opens (or creates) a database file and
// drops into the interactive shell described in internal/repl.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/thalamusdb/thalamusdb/internal/config"
	"github.com/thalamusdb/thalamusdb/internal/engine"
	"github.com/thalamusdb/thalamusdb/internal/llmclient"
	"github.com/thalamusdb/thalamusdb/internal/repl"
	"github.com/thalamusdb/thalamusdb/internal/store"
	"github.com/thalamusdb/thalamusdb/internal/tlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string

	root := &cobra.Command{
		Use:   "thalamusdb",
		Short: "ThalamusDB: SQL over unstructured data via bounded LLM evaluation",
	}

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive SQL shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), configPath)
		},
	}
	replCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; defaults apply otherwise)")
	root.AddCommand(replCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runREPL(ctx context.Context, configPath string) error {
	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}

	logger, err := tlog.NewLogger(cfg.LogFormat, cfg.LogLevel, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}

	tracerProvider := sdktrace.NewTracerProvider()
	defer func() { _ = tracerProvider.Shutdown(ctx) }()
	tracer := tracerProvider.Tracer("thalamusdb")

	eng, err := store.Open(ctx, cfg.DatabasePath, tracer)
	if err != nil {
		return err
	}
	defer eng.Close()

	classifier, err := llmclient.NewGeminiClassifier(ctx, cfg.APIKey(), cfg.LLMModel)
	if err != nil {
		return err
	}

	shell := &repl.Shell{
		Store:       eng,
		Classifier:  classifier,
		Constraints: engine.ErrorOnly(cfg.ErrorThreshold),
		BatchSize:   cfg.BatchSize,
		Logger:      logger,
		Out:         os.Stdout,
	}
	if cfg.LLMCallBudget > 0 || cfg.WallClockBudgetSeconds > 0 {
		shell.Constraints = engine.Constraints{
			ErrorThreshold:         cfg.ErrorThreshold,
			LLMCallBudget:          cfg.LLMCallBudget,
			WallClockBudgetSeconds: cfg.WallClockBudgetSeconds,
		}
	}

	if code := shell.Run(ctx); code != 0 {
		return fmt.Errorf("shell exited with code %d", code)
	}
	return nil
}
