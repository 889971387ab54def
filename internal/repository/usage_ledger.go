package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmehdipour/reader-gateway/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

var (
	ErrRecordNotFound   = errors.New("usage record not found")
	ErrAlreadyReversed  = errors.New("usage record already reversed")
	ErrInvalidCursor    = errors.New("invalid history cursor")
	ErrReverseNotCharge = errors.New("only charges can be reversed")
)

// UsageLedgerRepository is the append-only usage ledger.
type UsageLedgerRepository interface {
	Record(ctx context.Context, rec model.UsageRecord) error
	Reverse(ctx context.Context, recordID, requestID string, at time.Time) (model.UsageRecord, error)
	Summary(ctx context.Context, accountID int64, month time.Time) (count int64, total decimal.Decimal, err error)
	History(ctx context.Context, accountID int64, limit int, cursor string) (model.UsagePage, error)
}

type UsageLedgerRepositoryImpl struct {
	db     *sqlx.DB
	outbox OutboxRepository
}

func NewUsageLedgerRepository(db *sqlx.DB, outbox OutboxRepository) *UsageLedgerRepositoryImpl {
	return &UsageLedgerRepositoryImpl{db: db, outbox: outbox}
}

var _ UsageLedgerRepository = (*UsageLedgerRepositoryImpl)(nil)

const usageColumns = `id, account_id, request_id, kind, reverses, url, size_bytes, size_bucket,
	used_images, used_pdf, cost, billable_units, created_at`

// Record appends rec and its outbox event in one transaction; either both
// rows exist afterwards or neither does.
func (r *UsageLedgerRepositoryImpl) Record(ctx context.Context, rec model.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = util.NewAt(rec.CreatedAt)
	}
	if rec.Kind == "" {
		rec.Kind = model.UsageCharge
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.insert(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage record: %w", err)
	}
	return nil
}

func (r *UsageLedgerRepositoryImpl) insert(ctx context.Context, tx *sqlx.Tx, rec model.UsageRecord) error {
	const q = `
		INSERT INTO usage_records
		    (id, account_id, request_id, kind, reverses, url, size_bytes, size_bucket,
		     used_images, used_pdf, cost, billable_units, created_at)
		VALUES
		    (:id, :account_id, :request_id, :kind, :reverses, :url, :size_bytes, :size_bucket,
		     :used_images, :used_pdf, :cost, :billable_units, :created_at)
	`
	if _, err := tx.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	if err := r.outbox.InsertUsageEvent(ctx, tx, model.UsageEvent{
		ID:         rec.ID,
		AccountID:  rec.AccountID,
		Kind:       rec.Kind,
		SizeBytes:  rec.SizeBytes,
		SizeBucket: rec.SizeBucket,
		UsedImages: rec.UsedImages,
		UsedPDF:    rec.UsedPDF,
		Cost:       rec.Cost,
		Units:      rec.BillableUnits,
		CreatedAt:  rec.CreatedAt,
	}); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// Reverse appends a correcting entry that negates the cost and units of a
// charge. The charge itself is never modified.
func (r *UsageLedgerRepositoryImpl) Reverse(ctx context.Context, recordID, requestID string, at time.Time) (model.UsageRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.UsageRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var orig model.UsageRecord
	err = tx.GetContext(ctx, &orig, `SELECT `+usageColumns+` FROM usage_records WHERE id = ?`, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UsageRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return model.UsageRecord{}, err
	}
	if orig.Kind != model.UsageCharge {
		return model.UsageRecord{}, ErrReverseNotCharge
	}

	var n int
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM usage_records WHERE reverses = ?`, recordID); err != nil {
		return model.UsageRecord{}, err
	}
	if n > 0 {
		return model.UsageRecord{}, ErrAlreadyReversed
	}

	rev := orig
	rev.ID = util.NewAt(at)
	rev.RequestID = requestID
	rev.Kind = model.UsageReversal
	rev.Reverses = &orig.ID
	rev.Cost = orig.Cost.Neg()
	rev.BillableUnits = -orig.BillableUnits
	rev.CreatedAt = at

	// reverses is UNIQUE, so a concurrent second reversal fails here.
	if err := r.insert(ctx, tx, rev); err != nil {
		return model.UsageRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.UsageRecord{}, fmt.Errorf("commit reversal: %w", err)
	}
	return rev, nil
}

// Summary counts the charges of the UTC calendar month containing month and
// sums the cost of every entry (charges and reversals) in it.
func (r *UsageLedgerRepositoryImpl) Summary(ctx context.Context, accountID int64, month time.Time) (int64, decimal.Decimal, error) {
	from, to := MonthRange(month)

	var row struct {
		Count int64           `db:"n"`
		Total decimal.Decimal `db:"total"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT COUNT(CASE WHEN kind = 'charge' THEN 1 END) AS n,
		       COALESCE(SUM(cost), 0)                     AS total
		  FROM usage_records
		 WHERE account_id = ? AND created_at >= ? AND created_at < ?
	`, accountID, from, to)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return row.Count, row.Total.RoundBank(4), nil
}

// History pages through an account's entries newest first. The cursor is
// the id of the last entry already seen; ids are time-ordered ULIDs, so
// entries appended after the first page never shift later pages.
func (r *UsageLedgerRepositoryImpl) History(ctx context.Context, accountID int64, limit int, cursor string) (model.UsagePage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	q := `SELECT ` + usageColumns + ` FROM usage_records WHERE account_id = ?`
	args := []any{accountID}
	if cursor != "" {
		if !util.ValidULID(cursor) {
			return model.UsagePage{}, ErrInvalidCursor
		}
		q += " AND id < ?"
		args = append(args, cursor)
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit+1)

	var rows []model.UsageRecord
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return model.UsagePage{}, err
	}

	page := model.UsagePage{Limit: limit, Records: rows}
	if len(rows) > limit {
		page.Records = rows[:limit]
		page.HasMore = true
		page.NextCursor = rows[limit-1].ID
	}
	if page.Records == nil {
		page.Records = []model.UsageRecord{}
	}
	return page, nil
}

// MonthRange returns the UTC calendar month [from, to) containing t.
func MonthRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}
