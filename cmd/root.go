package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"treebranchleaf/tbl/internal/config"
	"treebranchleaf/tbl/internal/db"
	"treebranchleaf/tbl/internal/eval"
	"treebranchleaf/tbl/internal/logging"
	"treebranchleaf/tbl/internal/metrics"
	"treebranchleaf/tbl/internal/repeat"
	"treebranchleaf/tbl/internal/tree"
)

const (
	dbFileName     = ".tbl.db"
	configFileName = ".tbl.yaml"
)

var (
	dbPath      string
	configPath  string
	verbose     bool
	showMetrics bool

	cfg    = config.DefaultConfig()
	logger = zap.NewNop()

	registerMetrics sync.Once
)

var rootCmd = &cobra.Command{
	Use:           "tbl",
	Short:         "TreeBranchLeaf expression engine and repeater duplication",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded

		l, err := logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		logger = l

		registerMetrics.Do(func() { metrics.Default.MustRegister(prometheus.DefaultRegisterer) })
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showMetrics {
			if err := printMetrics(cmd.ErrOrStderr(), prometheus.DefaultGatherer); err != nil {
				logger.Warn("gathering metrics", zap.Error(err))
			}
		}
		logging.Sync(logger)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to "+dbFileName+" database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configFileName, "Path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print collected metrics to stderr on exit")
}

// DiscoverDB finds the database path using priority: env > flag > config > walk-up
func DiscoverDB() (string, error) {
	// 1. Environment variable
	if envPath := os.Getenv("TBL_DB"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", fmt.Errorf("database not found at TBL_DB path: %s", envPath)
	}

	// 2. CLI flag
	if dbPath != "" {
		if _, err := os.Stat(dbPath); err == nil {
			return dbPath, nil
		}
		return "", fmt.Errorf("database not found at --db path: %s", dbPath)
	}

	// 3. Config file
	if p := cfg.Database.Path; p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("database not found at database.path: %s", p)
	}

	// 4. Walk up from CWD
	dir, err := os.Getwd()
	if err == nil {
		for {
			candidate := filepath.Join(dir, dbFileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	return "", fmt.Errorf("no %s found (set TBL_DB, use --db, set database.path, or run tbl init)", dbFileName)
}

// OpenDatabase discovers and opens the database
func OpenDatabase() (*db.DB, error) {
	path, err := DiscoverDB()
	if err != nil {
		return nil, err
	}
	logger.Debug("opening database", zap.String("path", path))
	return db.OpenDB(path)
}

// ResolveNode finds a node by full ID, ID prefix, or label search.
func ResolveNode(d *db.DB, reference string) (*tree.Node, error) {
	// 1. Exact ID match
	node, err := d.GetNode(reference)
	if err != nil {
		return nil, err
	}
	if node != nil {
		return node, nil
	}

	// 2. ID prefix match
	matches, err := d.SearchByIDPrefix(reference, 10)
	if err != nil {
		return nil, err
	}
	if n, err := pickOne(reference, matches); n != nil || err != nil {
		return n, err
	}

	// 3. Label search
	matches, err = d.SearchByLabel(reference, 10)
	if err != nil {
		return nil, err
	}
	if n, err := pickOne(reference, matches); n != nil || err != nil {
		return n, err
	}

	return nil, fmt.Errorf("node not found: %s", reference)
}

// pickOne returns the single match, nil when there is none, or an error
// listing the candidates.
func pickOne(reference string, matches []tree.Node) (*tree.Node, error) {
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	}
	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = fmt.Sprintf("  %s %s", m.ID, m.Label)
	}
	return nil, fmt.Errorf("ambiguous reference '%s'. %d matches:\n%s\nUse a full node ID instead",
		reference, len(matches), strings.Join(lines, "\n"))
}

func newEngine(cat *tree.Catalog) *eval.Engine {
	return eval.NewEngine(cat,
		eval.WithLogger(logger.Named("eval")),
		eval.WithMetrics(metrics.Default),
		eval.WithMaxDepth(cfg.Evaluation.MaxDepth),
		eval.WithParallelism(cfg.Evaluation.Parallelism),
		eval.WithLegacyMatching(cfg.Evaluation.LegacyMatching),
	)
}

func newDuplicator(store repeat.Store) *repeat.Duplicator {
	return repeat.NewDuplicator(store,
		repeat.WithLogger(logger.Named("repeat")),
		repeat.WithMetrics(metrics.Default),
		repeat.WithMaxAttempts(cfg.Duplication.MaxAttempts),
		repeat.WithSuffixLabels(cfg.Duplication.SuffixLabels),
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
