// Package main provides the Legislative Engine CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/app"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

const version = "0.1.0"

var (
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "legislative-engine-cli",
	Short: "Legislative Engine CLI for indexing and question answering",
	Long: `Legislative Engine CLI answers questions about bills, members and
votes from the legislative records database.

Use this tool to:
- Build the embedding and fingerprint indexes
- Ask questions and inspect the evidence behind answers
- Inspect intent classification and query plans
- Link bill citations in arbitrary text
- Audit the indexes for drift against the corpus

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      "console",
			Output:      os.Stderr,
			ServiceName: "legislative-engine-cli",
		})
		ui = NewUI(outputJSON, noColor)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if ui != nil {
			ui.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("CONFIG_PATH"), "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newClassifyCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newLinkCmd())
	rootCmd.AddCommand(newDriftCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp wires the engine from the loaded config.
func openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("initialize engine: %w", err)
	}
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newSchemaCmd creates the schema subcommand.
func newSchemaCmd() *cobra.Command {
	var (
		dialect string
		corpus  bool
		apply   bool
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or apply the index schema",
		Long: `Schema prints the DDL for the embedding and fingerprint tables.
With --corpus the development corpus tables (members, bills, actions) are
included. With --apply the DDL is executed against the configured database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := storage.Dialect(dialect)
			if dialect == "" {
				d = storage.Dialect(cfg.Database.Driver)
			}
			if d != storage.DialectSQLite && d != storage.DialectPostgres {
				return fmt.Errorf("unknown dialect %q", dialect)
			}

			if !apply {
				fmt.Print(storage.SchemaSQL(d, corpus))
				return nil
			}

			ctx := cmd.Context()
			db, err := storage.Open(ctx, storage.Dialect(cfg.Database.Driver), cfg.DatabaseDSN(), storage.OpenOptions{})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := storage.Migrate(ctx, db, db.Dialect(), corpus); err != nil {
				return err
			}
			ui.Success("Schema applied on %s", db.Dialect())
			return nil
		},
	}

	cmd.Flags().StringVar(&dialect, "dialect", "", "sqlite or postgres (default: configured driver)")
	cmd.Flags().BoolVar(&corpus, "corpus", false, "include the development corpus tables")
	cmd.Flags().BoolVar(&apply, "apply", false, "execute against the configured database")

	return cmd
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return printJSON(map[string]string{
					"version": version,
					"go":      runtime.Version(),
				})
			}
			fmt.Printf("legislative-engine-cli v%s (%s)\n", version, runtime.Version())
			return nil
		},
	}
}
