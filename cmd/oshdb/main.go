package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/GIScience/oshdb-sub001/utils"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type flags struct {
	config     string
	dir        string
	backend    string
	nodes      int
	partitions int
	trace      bool
}

func (f *flags) apply(cmd *cobra.Command, cfg *Config) {
	if cmd.Flags().Changed("dir") {
		cfg.Dir = f.dir
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = f.backend
	}
	if cmd.Flags().Changed("nodes") {
		cfg.Cluster.Nodes = f.nodes
	}
	if cmd.Flags().Changed("partitions") {
		cfg.Cluster.Partitions = f.partitions
	}
	if f.trace {
		cfg.Trace = true
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelWarn
	}
	return level
}

func setupTracing(cfg Config) (func(context.Context) error, error) {
	if !cfg.Trace {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// start loads the config, opens the engine and the optional dataset.
func start(ctx context.Context, cmd *cobra.Command, f *flags) (*Engine, Config, func(), error) {
	cfg, err := LoadConfig(f.config)
	if err != nil {
		return nil, cfg, nil, err
	}
	f.apply(cmd, &cfg)
	log := utils.NewDefaultLogger(parseLevel(cfg.LogLevel))

	shutdown, err := setupTracing(cfg)
	if err != nil {
		return nil, cfg, nil, err
	}
	e, err := NewEngine(cfg, log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, cfg, nil, err
	}
	if d := cfg.Dataset; d != nil {
		if _, err := e.Load(ctx, datasetParams(d)); err != nil {
			_ = e.Close()
			_ = shutdown(ctx)
			return nil, cfg, nil, err
		}
	}
	return e, cfg, func() {
		_ = e.Close()
		_ = shutdown(ctx)
	}, nil
}

func main() {
	f := &flags{}
	root := &cobra.Command{
		Use:   "oshdb",
		Short: "map/reduce over grid cell histories on interchangeable backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, stop, err := start(cmd.Context(), cmd, f)
			if err != nil {
				return err
			}
			defer stop()
			repl, err := NewREPL(e, os.Stdout)
			if err != nil {
				return err
			}
			return repl.Loop(cmd.Context())
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "yaml config file")
	root.PersistentFlags().StringVar(&f.dir, "dir", "", "data directory, temporary when empty")
	root.PersistentFlags().StringVar(&f.backend, "backend", "", "backend to start with")
	root.PersistentFlags().IntVar(&f.nodes, "nodes", 0, "cluster nodes")
	root.PersistentFlags().IntVar(&f.partitions, "partitions", 0, "cluster partitions")
	root.PersistentFlags().BoolVar(&f.trace, "trace", false, "print spans to stderr")

	run := &cobra.Command{
		Use:   "run <command>...",
		Short: "execute REPL commands, one per argument, and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, stop, err := start(cmd.Context(), cmd, f)
			if err != nil {
				return err
			}
			defer stop()
			repl, err := NewREPL(e, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			for _, line := range args {
				err := repl.Execute(cmd.Context(), line)
				if errors.Is(err, io.EOF) {
					break
				} else if err != nil {
					return fmt.Errorf("%s: %w", line, err)
				}
			}
			return nil
		},
	}
	root.AddCommand(run)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
