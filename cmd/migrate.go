package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmehdipour/reader-gateway/internal/db"
	"github.com/jmehdipour/reader-gateway/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	migrationsDir  string
	skipClickHouse bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		mysqlDB, err := db.NewMySQL(ctx, cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		defer mysqlDB.Close()

		files, err := migrationFiles(filepath.Join(migrationsDir, "mysql"))
		if err != nil {
			return err
		}
		if _, err := mysqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return fmt.Errorf("disable fk checks: %w", err)
		}
		for _, f := range files {
			// the DSN enables multiStatements, so a file runs as one Exec
			if err := execFile(ctx, mysqlDB, f, false); err != nil {
				_, _ = mysqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
				return err
			}
		}
		if _, err := mysqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); err != nil {
			return fmt.Errorf("enable fk checks: %w", err)
		}
		logger.Log.Info("mysql migrated", zap.Int("files", len(files)))

		if skipClickHouse {
			return nil
		}
		chDB, err := db.NewClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer chDB.Close()

		files, err = migrationFiles(filepath.Join(migrationsDir, "clickhouse"))
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := execFile(ctx, chDB, f, true); err != nil {
				return err
			}
		}
		logger.Log.Info("clickhouse migrated", zap.Int("files", len(files)))
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory holding mysql/ and clickhouse/ migrations")
	migrateCmd.Flags().BoolVar(&skipClickHouse, "skip-clickhouse", false, "only migrate MySQL")
}

func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

// execFile runs one migration file. ClickHouse accepts a single statement
// per query, so split is set for it.
func execFile(ctx context.Context, x *sqlx.DB, path string, split bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", path, err)
	}
	stmts := []string{string(b)}
	if split {
		stmts = splitStatements(string(b))
	}
	for _, s := range stmts {
		if _, err := x.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func splitStatements(sql string) []string {
	var out []string
	for _, s := range strings.Split(sql, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
