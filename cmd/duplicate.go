package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"treebranchleaf/tbl/internal/repeat"
)

var dupJSON bool

var duplicateCmd = &cobra.Command{
	Use:   "duplicate <templateRootId> <parentId>",
	Short: "Copy a repeater template subtree under a parent with the next free suffix",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		res, err := newDuplicator(d).Duplicate(cmd.Context(), args[0], args[1])
		if err != nil {
			var rw *repeat.RewriteError
			if errors.As(err, &rw) {
				return fmt.Errorf("%w\nhint: run `tbl check` to list dangling references", err)
			}
			return err
		}

		if dupJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created copy %s (suffix %d) under %s\n", res.RootID, res.Suffix, res.ParentID)
		fmt.Fprintf(out, "  %d nodes, %d formulas, %d conditions, %d tables, %d variables\n",
			res.Created.Nodes, res.Created.Formulas, res.Created.Conditions, res.Created.Tables, res.Created.Variables)
		if len(res.Relinked) > 0 {
			fmt.Fprintf(out, "  back-links updated on %d node(s)\n", len(res.Relinked))
		}
		return nil
	},
}

var removeCopyCmd = &cobra.Command{
	Use:   "remove-copy <templateRootId> <N>",
	Short: "Delete copy N of a repeater template",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid copy number %q", args[1])
		}

		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		rm, err := newDuplicator(d).RemoveInstance(cmd.Context(), args[0], n)
		if err != nil {
			return err
		}
		if dupJSON {
			return printJSON(cmd.OutOrStdout(), rm)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s: %d nodes, %d capabilities, %d variables\n",
			rm.RootID, rm.Removed.Nodes, rm.Removed.Formulas+rm.Removed.Conditions+rm.Removed.Tables, rm.Removed.Variables)
		return nil
	},
}

var setTemplateCmd = &cobra.Command{
	Use:   "set-template <repeaterId> <templateNodeId>...",
	Short: "Replace a repeater's template node list",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := newDuplicator(d).SetRepeaterTemplate(cmd.Context(), args[0], args[1:]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Repeater %s now copies %v\n", args[0], args[1:])
		return nil
	},
}

var repairDryRun bool

var repairTemplatesCmd = &cobra.Command{
	Use:   "repair-templates",
	Short: "Rewrite suffixed repeater template lists to their base ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		repairs, err := newDuplicator(d).RepairTemplates(cmd.Context(), repairDryRun)
		if err != nil {
			return err
		}
		if dupJSON {
			return printJSON(cmd.OutOrStdout(), repairs)
		}
		if len(repairs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), okFmt("All repeater templates are clean"))
			return nil
		}
		tbl := newTable(cmd.OutOrStdout(), "Repeater", "Before", "After")
		for _, r := range repairs {
			tbl.AddRow(r.RepeaterID, fmt.Sprint(r.Before), fmt.Sprint(r.After))
		}
		tbl.Print()
		if repairDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d repeater(s) would be repaired (dry run)\n", len(repairs))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{duplicateCmd, removeCopyCmd, repairTemplatesCmd} {
		c.Flags().BoolVar(&dupJSON, "json", false, "Output as JSON")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(setTemplateCmd)
	repairTemplatesCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "Report repairs without writing")
}
