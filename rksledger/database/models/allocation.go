package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AllocationType string

const (
	AllocationTypeBid    AllocationType = "bid"
	AllocationTypeMining AllocationType = "mining"
)

type AllocationStatus string

const (
	AllocationStatusPending   AllocationStatus = "pending"
	AllocationStatusLocked    AllocationStatus = "locked"
	AllocationStatusMined     AllocationStatus = "mined"
	AllocationStatusExpired   AllocationStatus = "expired"
	AllocationStatusCancelled AllocationStatus = "cancelled"
)

// UIMAllocation reserves a slice of a bidder's weekly credit for one
// experience. Lifecycle moves forward only: pending is the sole state that
// may transition, everything else is terminal.
type UIMAllocation struct {
	bun.BaseModel `bun:"table:uima_allocations,alias:ua"`

	ID           int64            `bun:"id,pk,autoincrement"`
	AccountID    int64            `bun:"account_id,notnull"`
	ExperienceID string           `bun:"experience_id,notnull"`
	Amount       int64            `bun:"amount,notnull"`
	Type         AllocationType   `bun:"type,notnull"`
	Status       AllocationStatus `bun:"status,notnull"`
	ExpiryDate   time.Time        `bun:"expiry_date,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Reserved reports whether the allocation still counts against the weekly
// credit (pending bids and locked winning bids do, terminal states don't).
func (a *UIMAllocation) Reserved() bool {
	return a.Status == AllocationStatusPending || a.Status == AllocationStatusLocked
}

// CanTransition reports whether the allocation may move to the target
// status. Only pending allocations may transition at all.
func (a *UIMAllocation) CanTransition(to AllocationStatus) bool {
	if a.Status != AllocationStatusPending {
		return false
	}
	switch to {
	case AllocationStatusLocked, AllocationStatusMined, AllocationStatusExpired, AllocationStatusCancelled:
		return true
	}
	return false
}
