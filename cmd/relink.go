package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"treebranchleaf/tbl/internal/repeat"
	"treebranchleaf/tbl/internal/tree"
	"treebranchleaf/tbl/internal/variable"
)

var (
	relinkDryRun bool
	relinkJSON   bool
)

var relinkCmd = &cobra.Command{
	Use:   "relink",
	Short: "Rebuild linked*Ids on every node from capability and variable references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		changes, err := relinkAll(cmd.Context(), d, relinkDryRun)
		if err != nil {
			return err
		}
		if relinkJSON {
			return printJSON(cmd.OutOrStdout(), changes)
		}
		added := 0
		for _, c := range changes {
			added += c.Added
		}
		verb := "Added"
		if relinkDryRun {
			verb = "Would add"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d back-link(s) on %d node(s)\n", verb, added, len(changes))
		return nil
	},
}

// relinkAll unions computed back-links into stored links in one transaction.
func relinkAll(ctx context.Context, store repeat.Store, dryRun bool) ([]variable.Change, error) {
	var changes []variable.Change
	err := store.WithTx(ctx, func(tx repeat.Tx) error {
		nodes, err := tx.ListNodes(ctx)
		if err != nil {
			return err
		}
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		b, err := tx.FindOwned(ctx, ids)
		if err != nil {
			return err
		}
		b.Nodes = nodes

		changes = variable.Relink(tree.NewCatalog(b))
		if dryRun {
			return nil
		}
		for _, c := range changes {
			if err := tx.UpdateNodeLinks(ctx, c.NodeID, c.Links); err != nil {
				return fmt.Errorf("relinking %s: %w", c.NodeID, err)
			}
			logger.Debug("relinked node", zap.String("node", c.NodeID), zap.Int("added", c.Added))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func init() {
	relinkCmd.Flags().BoolVar(&relinkDryRun, "dry-run", false, "Report missing back-links without writing")
	relinkCmd.Flags().BoolVar(&relinkJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(relinkCmd)
}
