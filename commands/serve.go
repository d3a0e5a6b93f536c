package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taxomat/taxomat/api"
	"github.com/taxomat/taxomat/service"
)

func newServeCommand(opts *Options) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Serve starts the taxonomy service with its HTTP API, periodic tree
rebuilds and vocabulary file watching. It runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.API.Host = host
			}
			if port != 0 {
				cfg.API.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := service.New(ctx, cfg, service.WithLogger(logger))
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Start(ctx); err != nil {
				return err
			}

			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			logger.Info("Serving API", "addr", addr)
			return api.New(svc, logger).Serve(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	return cmd
}
