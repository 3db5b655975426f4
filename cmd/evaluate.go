package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"treebranchleaf/tbl/internal/eval"
	"treebranchleaf/tbl/internal/variable"
)

var (
	evalValuesFile string
	evalTrace      bool
	evalJSON       bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <capabilityRef>...",
	Short: "Evaluate formulas, conditions, tables or node values against field values",
	Long: `Each argument is a reference such as node-formula:<id>, condition:<id>,
@table.<id> or @value.<nodeId>. Field values come from --values, a JSON or
YAML map of node id (or label key) to submitted value. Variables are resolved
first and are visible to every evaluation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := loadValues(evalValuesFile)
		if err != nil {
			return err
		}

		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		cat, err := d.Catalog(cmd.Context())
		if err != nil {
			return fmt.Errorf("loading tree: %w", err)
		}

		engine := newEngine(cat)
		ectx := eval.NewContext(values, nil)
		vars, bindings := variable.New(cat, variable.WithLogger(logger.Named("variable"))).Resolve(engine, ectx)
		ectx = ectx.WithVariables(vars)
		logger.Debug("variables resolved", zap.Int("count", len(bindings)))

		results, err := engine.EvaluateAll(cmd.Context(), args, ectx)
		if err != nil {
			return err
		}

		if evalJSON {
			return printJSON(cmd.OutOrStdout(), struct {
				Variables map[string]eval.VariableValue `json:"variables"`
				Results   []eval.Result                 `json:"results"`
			}{vars, results})
		}
		for _, r := range results {
			printResult(cmd.OutOrStdout(), r, evalTrace)
		}
		return nil
	},
}

// loadValues reads a field value map. An empty path yields no values.
func loadValues(path string) (map[string]any, error) {
	values := map[string]any{}
	if path == "" {
		return values, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading values: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &values)
	default:
		err = json.Unmarshal(data, &values)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing values %s: %w", path, err)
	}
	return values, nil
}

func printResult(w io.Writer, r eval.Result, withTrace bool) {
	fmt.Fprintf(w, "%s = %v", r.Ref, r.Value)
	if r.Strategy != "" {
		fmt.Fprintf(w, "  [%s]", r.Strategy)
	}
	if n := len(r.Warnings()); n > 0 {
		fmt.Fprintf(w, "  %s", warnFmt(fmt.Sprintf("%d warning(s)", n)))
	}
	fmt.Fprintln(w)
	if r.Explanation != "" {
		fmt.Fprintf(w, "  %s\n", r.Explanation)
	}
	if !withTrace || len(r.Trace) == 0 {
		return
	}

	tbl := newTable(w, "Ref", "Source", "Candidates", "Value", "Level", "Message")
	for _, e := range r.Trace {
		level := string(e.Level)
		if e.Level == eval.LevelWarn {
			level = warnFmt(level)
		}
		value := ""
		if e.Value != nil {
			value = fmt.Sprint(e.Value)
		}
		tbl.AddRow(e.Ref, e.Source, e.Candidates, value, level, e.Message)
	}
	tbl.Print()
	fmt.Fprintln(w)
}

func init() {
	evaluateCmd.Flags().StringVar(&evalValuesFile, "values", "", "Field values file (.json, .yaml)")
	evaluateCmd.Flags().BoolVar(&evalTrace, "trace", false, "Print the resolution trace")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(evaluateCmd)
}
