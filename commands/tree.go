package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taxomat/taxomat/tree"
)

func newTreeCommand(opts *Options) *cobra.Command {
	var (
		audit  string
		lang   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the consolidated category tree",
		Long: `Tree rebuilds the category tree from the curated vocabulary and the
lookup cache, then prints it as an indented outline. With --audit it
prints the raw routes one source reported, before root mapping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			snapshot, err := svc.Rebuild(cmd.Context())
			if err != nil {
				return err
			}

			if audit != "" {
				node, ok := snapshot.Audit[audit]
				if !ok {
					return fmt.Errorf("no audit data for source: %s", audit)
				}
				printAudit(cmd.OutOrStdout(), node, 0)
				return nil
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), snapshot)
			}

			if lang == "" {
				lang = snapshot.Meta.Language
			}
			printTree(cmd.OutOrStdout(), snapshot, lang)
			return nil
		},
	}

	cmd.Flags().StringVar(&audit, "audit", "", "Print raw routes for one source instead of the tree")
	cmd.Flags().StringVar(&lang, "lang", "", "Display language (default: configured language)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full snapshot as JSON")
	return cmd
}

func newRebuildCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the category tree from cache and vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			snapshot, err := svc.Rebuild(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Tree rebuilt: %d concepts (%d promoted, %d dropped)\n",
				snapshot.Meta.Concepts, snapshot.Meta.Promoted, snapshot.Meta.Dropped)
			return nil
		},
	}
	return cmd
}

// printTree writes the tree as an indented outline, one concept per line
// with its descendant count.
func printTree(w io.Writer, snapshot *tree.Tree, lang string) {
	for _, root := range snapshot.Roots {
		printBranch(w, snapshot, root, lang, 0)
	}
}

func printBranch(w io.Writer, snapshot *tree.Tree, id, lang string, depth int) {
	node, ok := snapshot.Node(id)
	if !ok {
		return
	}

	label := node.Concept.PrefLabel
	if display, ok := node.Display[lang]; ok {
		label = display
	}

	indent := strings.Repeat("  ", depth)
	if node.Descendants > 0 {
		fmt.Fprintf(w, "%s%s (%d)\n", indent, label, node.Descendants)
	} else {
		fmt.Fprintf(w, "%s%s\n", indent, label)
	}

	for _, child := range node.Concept.Narrower {
		printBranch(w, snapshot, child, lang, depth+1)
	}
}

// printAudit writes one source's raw route outline with per-node route
// counts.
func printAudit(w io.Writer, node *tree.AuditNode, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s [%d routes]\n", indent, node.Label, node.Routes)
	for _, key := range sortedKeys(node.Children) {
		printAudit(w, node.Children[key], depth+1)
	}
}
