// Package cli implements importctl, the operator command line for student
// imports. It drives the same core.Service pipeline as the HTTP API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/campusops/admin/internal/config"
	"github.com/campusops/admin/internal/core"
	"github.com/campusops/admin/internal/database"
	"github.com/campusops/admin/internal/logging"
)

// Service is the part of core.Service the commands use.
type Service interface {
	Import(ctx context.Context, data []byte, mode core.WriteMode) (*core.ImportResult, error)
	LastNumericID(ctx context.Context) (int64, error)
	NextNumericID(ctx context.Context) (int64, error)
	NextPatternID(ctx context.Context, prefix string, pad int) (string, error)
}

// OpenFunc connects a Service. The returned func releases it.
type OpenFunc func(ctx context.Context) (Service, func(), error)

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string
}

// NewRootCmd builds the importctl command tree. open is called by commands
// that need the database; nil means OpenService.
func NewRootCmd(open OpenFunc) *cobra.Command {
	if open == nil {
		open = OpenService
	}
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "importctl",
		Short: "Bulk-import student records from CSV files",
		Long: `importctl runs the student CSV import pipeline against DATABASE_URL.

Each file is imported in its own transaction: a file either commits in full or
leaves the student table untouched.

Examples:
  importctl import students.csv
  importctl import --glob 'exports/**/*.csv' --mode upsert
  importctl next-id --pattern --prefix ADM- --pad 5`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", envOr("LOG_FORMAT", "text"), "log format: text or json")

	root.AddCommand(newImportCmd(open))
	root.AddCommand(newNextIDCmd(open))
	return root
}

// Execute runs importctl with the process arguments.
func Execute() {
	if err := NewRootCmd(nil).Execute(); err != nil {
		os.Exit(1)
	}
}

// OpenService loads configuration and the table catalog, connects to the
// database, and returns a core.Service.
func OpenService(ctx context.Context) (Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	catalog, err := config.LoadCatalog(cfg.Catalog.File)
	if err != nil {
		return nil, nil, err
	}

	pool, err := database.OpenPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return core.NewService(pool, cfg.Import, catalog), pool.Close, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
