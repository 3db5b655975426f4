package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"treebranchleaf/tbl/internal/graph"
)

var (
	checkJSON         bool
	checkRegion       string
	checkTopN         int
	checkHubThreshold int
	checkDriftDays    int64
	checkStrict       bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check tree integrity: suffixes, dangling references, linking contract, back-links",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		snap, err := graph.SnapshotFromDB(cmd.Context(), d)
		if err != nil {
			return fmt.Errorf("loading tree: %w", err)
		}
		if checkRegion != "" {
			if snap.Catalog.Node(checkRegion) == nil {
				return fmt.Errorf("region node not found: %s", checkRegion)
			}
			snap = snap.FilterToRegion(checkRegion)
		}

		report := graph.Analyze(snap, &graph.AnalyzerConfig{
			HubThreshold: checkHubThreshold,
			TopN:         checkTopN,
			MinDriftDays: checkDriftDays,
		})

		if checkJSON {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			printCheck(cmd.OutOrStdout(), report)
		}

		if checkStrict && report.Integrity.Errors() > 0 {
			return fmt.Errorf("%d integrity error(s)", report.Integrity.Errors())
		}
		return nil
	},
}

func printCheck(w io.Writer, report *graph.AnalysisReport) {
	fmt.Fprintf(w, "\n  Tree Health: %.0f%%  [%s]\n", report.HealthScore*100, healthBar(report.HealthScore))
	fmt.Fprintf(w, "  breakdown: integrity=%.2f linking=%.2f structure=%.2f freshness=%.2f\n\n",
		report.HealthBreakdown.Integrity,
		report.HealthBreakdown.Linking,
		report.HealthBreakdown.Structure,
		report.HealthBreakdown.Freshness)

	in := report.Integrity
	if len(in.Issues) == 0 {
		fmt.Fprintf(w, "  %s\n", okFmt("No integrity issues"))
	} else {
		fmt.Fprintf(w, "  INTEGRITY  %d error(s), %d warning(s)\n", in.BySeverity[graph.SeverityError], in.BySeverity[graph.SeverityWarning])
		tbl := newTable(w, "Severity", "Rule", "Entity", "Ref", "Message")
		for _, is := range in.Issues {
			sev := warnFmt(string(is.Severity))
			if is.Severity == graph.SeverityError {
				sev = errorFmt(string(is.Severity))
			}
			tbl.AddRow(sev, is.Rule, is.Entity, is.Ref, truncLabel(is.Message, 70))
		}
		tbl.Print()
	}

	t := report.Topology
	fmt.Fprintln(w, "\n  TOPOLOGY")
	fmt.Fprintf(w, "  Nodes: %d  References: %d  Components: %d  Isolated: %d\n",
		t.TotalNodes, t.TotalEdges, t.NumComponents, t.IsolatedCount)
	if len(t.Hubs) > 0 {
		fmt.Fprintln(w, "\n  Most read nodes:")
		for _, hub := range t.Hubs {
			fmt.Fprintf(w, "    %s read by %d (reads %d)  %s\n", hub.ID, hub.InDegree, hub.OutDegree, truncLabel(hub.Label, 40))
		}
	}

	s := report.Staleness
	if s.StaleCopyCount > 0 || s.OrphanCopyCount > 0 {
		fmt.Fprintln(w, "\n  COPIES")
		fmt.Fprintf(w, "  %d copies, %d behind their template, %d without template\n", s.CopyCount, s.StaleCopyCount, s.OrphanCopyCount)
		for _, c := range s.StaleCopies[:min(len(s.StaleCopies), checkTopN)] {
			fmt.Fprintf(w, "    %s <- %s (%dd drift)\n", c.CopyID, c.TemplateID, c.DriftDays)
		}
	}
	fmt.Fprintln(w)
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output as JSON")
	checkCmd.Flags().StringVar(&checkRegion, "region", "", "Scope the check to descendants of this node ID")
	checkCmd.Flags().IntVar(&checkTopN, "top-n", 10, "Number of top items to show per section")
	checkCmd.Flags().IntVar(&checkHubThreshold, "hub-threshold", 5, "Minimum readers to list a node as a hub")
	checkCmd.Flags().Int64Var(&checkDriftDays, "drift-days", 0, "Minimum template drift in days to report a copy")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "Exit non-zero when errors are found")
	rootCmd.AddCommand(checkCmd)
}
