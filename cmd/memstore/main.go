package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"memstore"
	"memstore/internal/backend"
	"memstore/internal/config"
	"memstore/internal/logging"
)

var (
	// Global flags
	verbose     bool
	dbPath      string
	backendName string
	namespaceNS string
	ttlSeconds  int64

	logger *zap.Logger
	cfg    config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "memstore",
	Short: "memstore - multi-backend hierarchical memory store",
	Long: `memstore is a durable key-value memory store addressed by
hierarchical namespaces, running on whichever embedded SQLite engine the
host supports: the native CGO binding (sync or async) or the pure-Go
interpreter.

Entries are addressed by (namespace, key); namespaces are /-delimited
paths queried with * (one segment) and ** (any trailing segments).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load()
		if err != nil {
			logger.Debug("config load failed, using defaults", zap.Error(err))
		}
		if dbPath == "" {
			dbPath = cfg.DBPath
		}
		if backendName == "" {
			backendName = cfg.Backend
		}

		if cwd, err := os.Getwd(); err == nil {
			if err := logging.Initialize(cwd); err != nil {
				logger.Debug("file logging disabled", zap.Error(err))
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// detectCmd probes the three engines.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe the embedded SQLite engines available on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := memstore.Detect()
		if res != nil {
			for _, c := range res.Capabilities {
				status := "unavailable"
				if c.Available {
					status = fmt.Sprintf("available (init %v, score %d)", c.InitTime, c.PerformanceScore)
				}
				fmt.Printf("%-14s %s\n", c.ID, status)
				if probeErr, ok := res.Errors[c.ID]; ok {
					fmt.Printf("               reason: %v\n", probeErr)
				}
			}
			if res.Recommended != "" {
				fmt.Printf("recommended:   %s\n", res.Recommended)
			}
		}
		return err
	},
}

// storeCmd writes one entry.
var storeCmd = &cobra.Command{
	Use:   "store [key] [json-value]",
	Short: "Store a JSON value under (namespace, key)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value any
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			return fmt.Errorf("value must be valid JSON: %w", err)
		}
		return withStore(func(s *memstore.Store) error {
			err := s.Store(memstore.StoreRequest{
				Key:       args[0],
				Value:     value,
				Namespace: namespaceNS,
				TTL:       ttlSeconds,
			})
			if err != nil {
				return err
			}
			logger.Info("stored entry",
				zap.String("key", args[0]),
				zap.String("namespace", namespaceNS))
			return nil
		})
	},
}

// getCmd retrieves one entry.
var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Retrieve an entry (searches all namespaces when none is given)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *memstore.Store) error {
			entry, err := s.Retrieve(args[0], namespaceNS)
			if err != nil {
				return err
			}
			if entry == nil {
				fmt.Println("null")
				return nil
			}
			return printJSON(entry)
		})
	},
}

// searchCmd matches entries by key and namespace pattern.
var searchCmd = &cobra.Command{
	Use:   "search [key-pattern] [namespace-pattern]",
	Short: "Search entries by wildcard key and namespace patterns",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		nsPattern := "**"
		if len(args) == 2 {
			nsPattern = args[1]
		}
		return withStore(func(s *memstore.Store) error {
			entries, err := s.Search(args[0], nsPattern)
			if err != nil {
				return err
			}
			return printJSON(entries)
		})
	},
}

// listCmd lists all entries in matching namespaces.
var listCmd = &cobra.Command{
	Use:   "list [namespace-pattern]",
	Short: "List every entry in the namespaces matching the pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *memstore.Store) error {
			entries, err := s.List(args[0])
			if err != nil {
				return err
			}
			return printJSON(entries)
		})
	},
}

// infoCmd aggregates per-namespace statistics.
var infoCmd = &cobra.Command{
	Use:   "info [namespace-pattern]",
	Short: "Show aggregate info for matching namespaces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *memstore.Store) error {
			infos, err := s.NamespaceInfo(args[0])
			if err != nil {
				return err
			}
			return printJSON(infos)
		})
	},
}

// deleteCmd removes one entry.
var deleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Delete the entry for (namespace, key)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *memstore.Store) error {
			deleted, err := s.Delete(args[0], namespaceNS)
			if err != nil {
				return err
			}
			fmt.Println(deleted)
			return nil
		})
	},
}

// cleanupCmd purges expired entries.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Physically remove expired entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *memstore.Store) error {
			removed, err := s.Cleanup()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired entries\n", removed)
			return nil
		})
	},
}

// metricsCmd records or summarizes metric samples.
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Record and summarize metric samples",
}

var metricsRecordCmd = &cobra.Command{
	Use:   "record [name] [value]",
	Short: "Append a metric sample",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value float64
		if _, err := fmt.Sscanf(args[1], "%g", &value); err != nil {
			return fmt.Errorf("value must be numeric: %w", err)
		}
		unit, _ := cmd.Flags().GetString("unit")
		var tags map[string]string
		if namespaceNS != "" {
			tags = map[string]string{"namespace": namespaceNS}
		}
		return withStore(func(s *memstore.Store) error {
			return s.RecordMetric(args[0], value, unit, tags)
		})
	},
}

var metricsSummaryCmd = &cobra.Command{
	Use:   "summary [name]",
	Short: "Summarize all samples sharing a name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *memstore.Store) error {
			summary, err := s.MetricsSummary(args[0])
			if err != nil {
				return err
			}
			if summary == nil {
				fmt.Println("null")
				return nil
			}
			return printJSON(summary)
		})
	},
}

var metricsNamespaceCmd = &cobra.Command{
	Use:   "namespaces [namespace-pattern]",
	Short: "Summaries grouped by the namespace tag of each sample",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *memstore.Store) error {
			groups, err := s.NamespaceMetrics(args[0])
			if err != nil {
				return err
			}
			return printJSON(groups)
		})
	},
}

// statsCmd prints row counts and backend info.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show table counts and the active backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *memstore.Store) error {
			stats, err := s.Stats()
			if err != nil {
				return err
			}
			out := map[string]any{
				"tables":         stats,
				"implementation": s.ImplementationInfo(),
				"connection_ok":  s.TestConnection(),
			}
			return printJSON(out)
		})
	},
}

// withStore opens the configured store, runs fn and closes it.
func withStore(fn func(*memstore.Store) error) error {
	opts := []memstore.Option{}
	if backendName != "" {
		// Unknown names surface as ErrBackendUnavailable at Open.
		opts = append(opts, memstore.WithBackend(backend.ID(backendName)))
	}
	if cfg.SnapshotThreshold > 0 {
		opts = append(opts, memstore.WithSnapshotThreshold(cfg.SnapshotThreshold))
	}

	s, err := memstore.Open(dbPath, opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file path (default from memstore.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "force backend: native-sync, native-async or wasm")
	rootCmd.PersistentFlags().StringVarP(&namespaceNS, "namespace", "n", "", "namespace for store/get/delete/metrics record")
	rootCmd.PersistentFlags().Int64Var(&ttlSeconds, "ttl", 0, "time-to-live in seconds (0 = never expires)")

	metricsRecordCmd.Flags().String("unit", "", "sample unit, e.g. ms or bytes")

	metricsCmd.AddCommand(metricsRecordCmd, metricsSummaryCmd, metricsNamespaceCmd)
	rootCmd.AddCommand(detectCmd, storeCmd, getCmd, searchCmd, listCmd, infoCmd,
		deleteCmd, cleanupCmd, metricsCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
