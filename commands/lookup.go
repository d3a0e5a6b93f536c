package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taxomat/taxomat/vocabulary"
)

func newLookupCommand(opts *Options) *cobra.Command {
	var (
		lang   string
		wait   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "lookup <term>",
		Short: "Resolve a term to its canonical category",
		Long: `Lookup resolves a term against the curated vocabulary, the lookup
cache and the external classification sources, in that order. A term
no source recognizes lands under the uncategorized root.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			concept, err := svc.Lookup(cmd.Context(), args[0], lang, wait)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), concept)
			}
			printConcept(cmd.OutOrStdout(), concept)
			return nil
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "", "Label language (default: configured language)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for busy sources instead of degrading")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newExpandCommand(opts *Options) *cobra.Command {
	var (
		lang string
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "expand <term>",
		Short: "List every canonical path a term matches",
		Long: `Expand resolves a term like lookup does, but prints one line per
matching path. Ambiguous synonyms yield multiple lines.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			paths, err := svc.Expand(cmd.Context(), args[0], lang, wait)
			if err != nil {
				return err
			}

			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "", "Label language (default: configured language)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for busy sources instead of degrading")
	return cmd
}

func newSearchCommand(opts *Options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search categories by label substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("limit must be at least 1")
			}

			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			for _, c := range svc.Search(args[0], limit) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  (%s)\n", c.Path, c.PrefLabel)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

// printConcept writes a concept as aligned key/value lines.
func printConcept(w io.Writer, c *vocabulary.Concept) {
	fmt.Fprintf(w, "Path:    %s\n", c.Path)
	fmt.Fprintf(w, "Label:   %s\n", c.PrefLabel)
	fmt.Fprintf(w, "Source:  %s\n", c.Source)
	if len(c.Labels) > 0 {
		fmt.Fprintf(w, "Labels:  %s\n", formatLabels(c.Labels))
	}
	if len(c.SourceURIs) > 0 {
		fmt.Fprintln(w, "URIs:")
		for _, name := range sortedKeys(c.SourceURIs) {
			for _, uri := range c.SourceURIs[name] {
				fmt.Fprintf(w, "  %s: %s\n", name, uri)
			}
		}
	}
	if c.Description != "" {
		fmt.Fprintf(w, "About:   %s\n", c.Description)
	}
	if c.Link != "" {
		fmt.Fprintf(w, "Link:    %s\n", c.Link)
	}
}

// formatLabels renders a label map as "lang=label" pairs in lang order.
func formatLabels(labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for _, lang := range sortedKeys(labels) {
		pairs = append(pairs, lang+"="+labels[lang])
	}
	return strings.Join(pairs, " ")
}
