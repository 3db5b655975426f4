package cmd

import (
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rodaine/table"

	"treebranchleaf/tbl/internal/metrics"
)

var (
	headerFmt = color.New(color.FgGreen, color.Bold).SprintfFunc()
	columnFmt = color.New(color.FgYellow).SprintfFunc()
	warnFmt   = color.New(color.FgYellow).SprintFunc()
	errorFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	okFmt     = color.New(color.FgGreen).SprintFunc()
)

func newTable(w io.Writer, headers ...interface{}) table.Table {
	tbl := table.New(headers...)
	tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt).WithWriter(w)
	return tbl
}

func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	samples, err := metrics.Summary(g)
	if err != nil {
		return err
	}
	tbl := newTable(w, "Metric", "Labels", "Value")
	for _, s := range samples {
		tbl.AddRow(s.Name, s.Labels, s.Value)
	}
	tbl.Print()
	return nil
}

func truncLabel(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func healthBar(score float64) string {
	barLen := min(max(int(score*20), 0), 20)
	return strings.Repeat("█", barLen) + strings.Repeat("░", 20-barLen)
}
