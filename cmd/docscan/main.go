// Package main provides the docscan CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/docscan/internal/app"
	"github.com/spherical-ai/docscan/internal/config"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/storage"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "docscan",
	Short: "Ingest scanned documents and extract their text",
	Long: `docscan stores uploaded documents, renders thumbnails and extracts text
with the PDF text layer or Tesseract OCR.

The same configuration file drives both this CLI and docscan-api.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		format := "console"
		if outputJSON {
			format = "json"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      format,
			Output:      os.Stderr,
			ServiceName: "docscan-cli",
		})
		ui = NewUI(noColor || outputJSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("CONFIG_PATH"), "config file path")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newRerunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newRecoverCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// openApp builds the services for commands that touch the database.
func openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func closeApp(svc *app.App) {
	if err := svc.Close(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to release services")
	}
}

func parseUser(s string) (uuid.UUID, error) {
	if s == "" {
		s = os.Getenv("DOCSCAN_USER")
	}
	if s == "" {
		return uuid.Nil, fmt.Errorf("--user is required (or set DOCSCAN_USER)")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := storage.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			mm := storage.NewMigrationManager(db, cfg.Database.Driver)
			if check {
				status, err := mm.Check(ctx)
				if err != nil {
					return err
				}
				if outputJSON {
					return printJSON(status)
				}
				if status.UpToDate {
					ui.Success("Schema is up to date (%d migrations)", status.Total)
					return nil
				}
				for _, name := range status.Pending {
					ui.Warning("Pending: %s", name)
				}
				return nil
			}

			applied, err := mm.Run(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]interface{}{"applied": applied})
			}
			if len(applied) == 0 {
				ui.Success("Nothing to apply")
				return nil
			}
			for _, name := range applied {
				ui.Success("Applied %s", name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only report pending migrations")
	return cmd
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				printJSON(map[string]string{"version": version, "go": runtime.Version()})
				return
			}
			fmt.Printf("docscan v%s\n", version)
		},
	}
}
