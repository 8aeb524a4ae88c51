package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TransactionType string

const (
	TransactionTypeTransfer TransactionType = "transfer"
	TransactionTypeBid      TransactionType = "bid"
	TransactionTypeMining   TransactionType = "mining"
	TransactionTypeRefund   TransactionType = "refund"
	TransactionTypeSystem   TransactionType = "system"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// SystemAccountID is the synthetic counterparty for issuance-style entries
// (mining rewards, weekly credit) that have no real source account.
const SystemAccountID = "system"

// Transaction is one append-only ledger entry. Completed entries are
// immutable; every account mutation writes exactly one entry.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:tx"`

	ID            int64             `bun:"id,pk,autoincrement"`
	TransactionID string            `bun:"transaction_id,notnull,unique"`
	FromAccountID string            `bun:"from_account_id,notnull"`
	ToAccountID   string            `bun:"to_account_id,notnull"`
	Amount        int64             `bun:"amount,notnull"`
	Type          TransactionType   `bun:"type,notnull"`
	Status        TransactionStatus `bun:"status,notnull"`
	Timestamp     time.Time         `bun:"timestamp,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Valid reports whether the entry satisfies the minimal ledger constraints:
// a positive amount and both counterparties present.
func (t *Transaction) Valid() bool {
	return t.Amount > 0 && t.FromAccountID != "" && t.ToAccountID != ""
}
