package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the lookup cache",
	}
	cmd.AddCommand(
		newCacheStatsCommand(opts),
		newCachePurgeCommand(opts),
		newCacheClearCommand(opts),
	)
	return cmd
}

func newCacheStatsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.CacheStatistics(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend:  %s\n", stats.Backend)
			fmt.Fprintf(out, "Entries:  %d\n", stats.Entries)
			fmt.Fprintf(out, "Concepts: %d\n", stats.Concepts)
			fmt.Fprintf(out, "Labels:   %d\n", stats.Labels)
			return nil
		},
	}
}

func newCachePurgeCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.PurgeCache(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Purged %d expired entries\n", n)
			return nil
		},
	}
}

func newCacheClearCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.ClearCache(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "✓ Cache cleared")
			return nil
		},
	}
}
