package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"treebranchleaf/tbl/internal/tree"
)

var importJSON bool

var importCmd = &cobra.Command{
	Use:   "import <bundle.json>",
	Short: "Load nodes, capabilities and variables from a JSON bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := readBundle(args[0])
		if err != nil {
			return err
		}

		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		counts, err := d.Import(cmd.Context(), bundle)
		if err != nil {
			return fmt.Errorf("importing %s: %w", args[0], err)
		}
		logger.Info("imported bundle", zap.String("file", args[0]), zap.Int("nodes", counts.Nodes))

		if importJSON {
			return printJSON(cmd.OutOrStdout(), counts)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d nodes, %d formulas, %d conditions, %d tables, %d variables\n",
			counts.Nodes, counts.Formulas, counts.Conditions, counts.Tables, counts.Variables)
		return nil
	},
}

func readBundle(path string) (tree.Bundle, error) {
	var b tree.Bundle
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("reading bundle: %w", err)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("parsing bundle %s: %w", path, err)
	}
	return b, nil
}

func init() {
	importCmd.Flags().BoolVar(&importJSON, "json", false, "Output counts as JSON")
	rootCmd.AddCommand(importCmd)
}
