package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHUsageRepository is the analytics read model fed by the projector.
type CHUsageRepository interface {
	InsertBatch(ctx context.Context, events []model.UsageEvent) error
	DailyByAccount(ctx context.Context, accountID int64, since time.Time) ([]model.DailyUsage, error)
}

type chUsageRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHUsageRepository(ch *sqlx.DB) CHUsageRepository {
	return &chUsageRepository{ch: ch}
}

// InsertBatch sends events as one ClickHouse block. usage_events is a
// ReplacingMergeTree keyed by id, so redelivered events collapse.
func (r *chUsageRepository) InsertBatch(ctx context.Context, events []model.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readergw.usage_events
		    (id, account_id, kind, size_bytes, size_bucket, used_images, used_pdf, cost, units, created_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.AccountID, string(ev.Kind), ev.SizeBytes, ev.SizeBucket,
			ev.UsedImages, ev.UsedPDF, ev.Cost, int32(ev.Units), ev.CreatedAt,
		); err != nil {
			return fmt.Errorf("append %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

func (r *chUsageRepository) DailyByAccount(ctx context.Context, accountID int64, since time.Time) ([]model.DailyUsage, error) {
	const q = `
		SELECT toDate(created_at)             AS day,
		       countIf(kind = 'charge')       AS requests,
		       toInt64(sum(units))            AS units,
		       toString(sum(cost))            AS cost
		  FROM readergw.usage_events FINAL
		 WHERE account_id = ? AND created_at >= ?
		 GROUP BY day
		 ORDER BY day DESC
	`
	var rows []model.DailyUsage
	if err := r.ch.SelectContext(ctx, &rows, q, accountID, since.UTC()); err != nil {
		return nil, err
	}
	return rows, nil
}
