// Package commands implements the taxomat command line interface.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taxomat/taxomat/config"
	"github.com/taxomat/taxomat/service"
)

// Options carries root-level flags shared by all subcommands.
type Options struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand builds the taxomat command tree.
func NewRootCommand(version, buildTime string) *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "taxomat",
		Short: "Multilingual category taxonomy service",
		Long: `Taxomat merges curated category definitions with external
classification sources into one multilingual category tree.

Terms are resolved through Open Food Facts, AGROVOC, DBpedia and
Wikidata, cached locally and folded under a fixed set of canonical
root categories.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(opts),
		newLookupCommand(opts),
		newExpandCommand(opts),
		newSearchCommand(opts),
		newTreeCommand(opts),
		newRebuildCommand(opts),
		newSourcesCommand(opts),
		newCacheCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(version, buildTime),
	)

	return cmd
}

// setup resolves layered configuration and installs the logger it
// describes.
func (o *Options) setup() (*config.Config, *slog.Logger, error) {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	loader := config.NewLoader(bootstrap)
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = loader.LoadFile(o.ConfigPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newService wires a one-shot service for CLI commands.
func (o *Options) newService(ctx context.Context) (*service.Service, error) {
	cfg, logger, err := o.setup()
	if err != nil {
		return nil, err
	}
	return service.New(ctx, cfg, service.WithLogger(logger))
}

// newLogger builds an slog logger from the log configuration.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newVersionCommand(version, buildTime string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taxomat version %s (build: %s)\n", version, buildTime)
		},
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
