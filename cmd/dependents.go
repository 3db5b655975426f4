package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"treebranchleaf/tbl/internal/db"
	"treebranchleaf/tbl/internal/tree"
)

var (
	depBudget  int
	depMaxHops int
	depKinds   string
	depJSON    bool
)

var dependentsCmd = &cobra.Command{
	Use:   "dependents <node>",
	Short: "List the nodes to re-evaluate when a node changes",
	Long:  "Follows back-links (linked formula, condition, table and variable ids) outwards from a node, nearest first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		source, err := ResolveNode(d, args[0])
		if err != nil {
			return err
		}

		config := &db.DependentsConfig{Budget: depBudget, MaxHops: depMaxHops}
		if depKinds != "" {
			for _, k := range strings.Split(depKinds, ",") {
				config.Kinds = append(config.Kinds, tree.LinkKind(strings.TrimSpace(k)))
			}
		}

		results, err := d.Dependents(cmd.Context(), source.ID, config)
		if err != nil {
			return fmt.Errorf("dependents: %w", err)
		}

		if depJSON {
			return printJSON(cmd.OutOrStdout(), struct {
				Source  string         `json:"source"`
				Results []db.Dependent `json:"results"`
				Count   int            `json:"count"`
			}{source.ID, results, len(results)})
		}
		printDependents(cmd.OutOrStdout(), source, results)
		return nil
	},
}

func printDependents(w io.Writer, source *tree.Node, results []db.Dependent) {
	if len(results) == 0 {
		fmt.Fprintf(w, "Nothing depends on %s (%s)\n", source.Label, source.ID)
		return
	}
	fmt.Fprintf(w, "Dependents of %s (%s)\n\n", source.Label, source.ID)

	tbl := newTable(w, "#", "Node", "Label", "Hops", "Via")
	for _, r := range results {
		via := make([]string, len(r.Path))
		for i, hop := range r.Path {
			via[i] = fmt.Sprintf("%s:%s", hop.Kind, hop.LinkID)
		}
		tbl.AddRow(r.Rank, r.NodeID, truncLabel(r.Label, 40), r.Hops, strings.Join(via, " → "))
	}
	tbl.Print()
	fmt.Fprintf(w, "\n%d node(s) within budget\n", len(results))
}

func init() {
	dependentsCmd.Flags().IntVar(&depBudget, "budget", 50, "Max nodes to return")
	dependentsCmd.Flags().IntVar(&depMaxHops, "max-hops", 6, "Max link depth")
	dependentsCmd.Flags().StringVar(&depKinds, "kinds", "", "Comma-separated link kinds (formula,condition,table,variable)")
	dependentsCmd.Flags().BoolVar(&depJSON, "json", false, "JSON output")
	rootCmd.AddCommand(dependentsCmd)
}
