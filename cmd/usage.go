package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/db"
	"github.com/jmehdipour/reader-gateway/internal/repository"
	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Operator tools for the usage ledger",
}

var reverseRequestID string

var usageReverseCmd = &cobra.Command{
	Use:   "reverse <record-id>",
	Short: "Append a reversal for a charge (refund)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeDB, err := openLedger()
		if err != nil {
			return err
		}
		defer closeDB()

		reqID := reverseRequestID
		if reqID == "" {
			reqID = gatekeeper.NewRequestID()
		}
		rev, err := ledger.Reverse(context.Background(), args[0], reqID, time.Now().UTC())
		switch {
		case errors.Is(err, repository.ErrRecordNotFound):
			return fmt.Errorf("record %s not found", args[0])
		case errors.Is(err, repository.ErrAlreadyReversed):
			return fmt.Errorf("record %s is already reversed", args[0])
		case err != nil:
			return err
		}
		return printJSON(rev)
	},
}

var summaryMonth string

var usageSummaryCmd = &cobra.Command{
	Use:   "summary <account-id>",
	Short: "Print the request count and cost of one calendar month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("account id: %w", err)
		}
		month := time.Now().UTC()
		if summaryMonth != "" {
			if month, err = time.Parse("2006-01", summaryMonth); err != nil {
				return fmt.Errorf("--month must be YYYY-MM: %w", err)
			}
		}

		ledger, closeDB, err := openLedger()
		if err != nil {
			return err
		}
		defer closeDB()

		count, total, err := ledger.Summary(context.Background(), accountID, month)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"account_id":     accountID,
			"month":          month.Format("2006-01"),
			"requests":       count,
			"total_cost_usd": total,
		})
	},
}

func init() {
	usageReverseCmd.Flags().StringVar(&reverseRequestID, "request-id", "", "request id stored on the reversal (generated when empty)")
	usageSummaryCmd.Flags().StringVar(&summaryMonth, "month", "", "month as YYYY-MM (default: current)")
	usageCmd.AddCommand(usageReverseCmd, usageSummaryCmd)
}

func openLedger() (repository.UsageLedgerRepository, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.NewMySQL(context.Background(), cfg.MySQL)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connect: %w", err)
	}
	ledger := repository.NewUsageLedgerRepository(sqlDB, repository.NewOutboxRepository())
	return ledger, func() { _ = sqlDB.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
