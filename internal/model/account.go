package model

import "time"

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Account is a caller of the reader API. It references exactly one tier.
type Account struct {
	ID         int64         `db:"id"`
	Name       string        `db:"name"`
	APIKey     string        `db:"api_key"`
	Tier       string        `db:"tier"`
	Status     AccountStatus `db:"status"` // active|suspended
	CreatedAt  time.Time     `db:"created_at"`
	LastUsedAt *time.Time    `db:"last_used_at"` // nullable
}

func (a Account) Active() bool { return a.Status == AccountActive }
