package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/db"
	"github.com/jmehdipour/reader-gateway/internal/logger"
	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with one demo account per tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQL(context.Background(), cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		accounts := demoAccounts(cfg.Tiers)
		if err := seedAccounts(sqlDB, accounts); err != nil {
			return err
		}
		for _, a := range accounts {
			logger.Log.Info("seeded account",
				zap.String("name", a.Name), zap.String("tier", a.Tier),
				zap.String("status", string(a.Status)), zap.String("api_key", a.APIKey))
		}
		return nil
	},
}

// demoAccounts returns one active account per configured tier plus a
// suspended one. Keys are deterministic so reseeding is idempotent.
func demoAccounts(tiers []model.Tier) []model.Account {
	out := make([]model.Account, 0, len(tiers)+1)
	for i, t := range tiers {
		out = append(out, model.Account{
			Name:   "Demo " + t.Name,
			APIKey: fmt.Sprintf("rk_demo_%s_%02d", t.Name, i+1),
			Tier:   t.Name,
			Status: model.AccountActive,
		})
	}
	if len(tiers) > 0 {
		out = append(out, model.Account{
			Name:   "Suspended Inc",
			APIKey: "rk_demo_suspended_00",
			Tier:   tiers[0].Name,
			Status: model.AccountSuspended,
		})
	}
	return out
}

// seedAccounts upserts on api_key (UNIQUE).
func seedAccounts(dbx *sqlx.DB, accounts []model.Account) error {
	const q = `
INSERT INTO accounts
    (name, api_key, tier, status, created_at)
VALUES
    (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name   = VALUES(name),
    tier   = VALUES(tier),
    status = VALUES(status)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, a := range accounts {
		if _, err := tx.Exec(q, a.Name, a.APIKey, a.Tier, a.Status, now); err != nil {
			return fmt.Errorf("insert account %q: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	return nil
}
