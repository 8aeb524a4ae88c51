package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AccountType string

const (
	AccountTypeMain AccountType = "main"
	AccountTypeUIMA AccountType = "uima"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusLocked    AccountStatus = "locked"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Account holds balance state for one user. A user owns exactly one main
// account (RKS) and one uima account (weekly spending credit). Accounts are
// never deleted; decommissioning transitions status to suspended.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID           int64         `bun:"id,pk,autoincrement"`
	OwnerID      string        `bun:"owner_id,notnull"`
	Type         AccountType   `bun:"type,notnull"`
	Balance      int64         `bun:"balance,notnull,default:0"`
	LockedAmount int64         `bun:"locked_amount,notnull,default:0"`
	Status       AccountStatus `bun:"status,notnull"`

	// UIMA accounts only.
	WeeklyCredit     int64     `bun:"weekly_credit,notnull,default:0"`
	WeeklyExpiration time.Time `bun:"weekly_expiration,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Available reports the balance not reserved by Lock.
func (a *Account) Available() int64 {
	return a.Balance - a.LockedAmount
}

// CanDebit reports whether amount can be withdrawn without touching the
// locked portion of the balance.
func (a *Account) CanDebit(amount int64) bool {
	return amount > 0 && amount <= a.Available()
}

// CreditExpired reports whether the weekly allowance is past its expiration
// instant. Callers must refresh before relying on WeeklyCredit.
func (a *Account) CreditExpired(now time.Time) bool {
	return !a.WeeklyExpiration.IsZero() && now.After(a.WeeklyExpiration)
}
