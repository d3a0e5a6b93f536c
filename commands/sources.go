package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSourcesCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Show external source gate and breaker state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-10s %-9s %-20s %s\n", "SOURCE", "STATE", "FAILURES", "LAST SUCCESS", "LAST FAILURE")
			for _, st := range svc.SourceStatuses() {
				fmt.Fprintf(out, "%-10s %-10s %-9d %-20s %s\n",
					st.Source, st.State, st.Failures,
					formatTime(st.LastSuccess), formatTime(st.LastFailure))
			}
			return nil
		},
	}
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
