package model

import "time"

type OutboxEvent struct {
	ID          int64     `db:"id"`
	Aggregate   string    `db:"aggregate"`    // e.g. "usage"
	AggregateID string    `db:"aggregate_id"` // usage record id
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
}
