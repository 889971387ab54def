package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// UsageRecordedTopic carries one model.UsageEvent per ledger entry.
const UsageRecordedTopic = "usage.recorded"

// OutboxRepository stages events for Debezium's outbox router, which
// publishes each row to the Kafka topic named in its `topic` column.
type OutboxRepository interface {
	// Insert must run inside the transaction that writes the aggregate.
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) error
	InsertUsageEvent(ctx context.Context, tx *sqlx.Tx, ev model.UsageEvent) error
}

type OutboxRepositoryImpl struct{}

func NewOutboxRepository() *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{}
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) error {
	if tx == nil {
		return fmt.Errorf("outbox: insert %s/%s outside a transaction", ev.Aggregate, ev.AggregateID)
	}
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES (:aggregate, :aggregate_id, :topic, :payload, :created_at)
	`
	_, err := tx.NamedExecContext(ctx, q, ev)
	return err
}

// InsertUsageEvent stages ev on UsageRecordedTopic, keyed by the record id.
func (r *OutboxRepositoryImpl) InsertUsageEvent(ctx context.Context, tx *sqlx.Tx, ev model.UsageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	return r.Insert(ctx, tx, model.OutboxEvent{
		Aggregate:   "usage",
		AggregateID: ev.ID,
		Topic:       UsageRecordedTopic,
		Payload:     payload,
		CreatedAt:   ev.CreatedAt,
	})
}
