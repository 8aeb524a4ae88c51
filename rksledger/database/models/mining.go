package models

import (
	"time"

	"github.com/uptrace/bun"
)

type MiningStatus string

const (
	MiningStatusPending   MiningStatus = "pending"
	MiningStatusCompleted MiningStatus = "completed"
	MiningStatusFailed    MiningStatus = "failed"
)

// MiningTask tracks a reward that becomes claimable once an experience meets
// its conditions. Each task settles into the owner's main account exactly
// once; completed and failed are both terminal.
type MiningTask struct {
	bun.BaseModel `bun:"table:mining_tasks,alias:mt"`

	ID           int64        `bun:"id,pk,autoincrement"`
	TaskID       string       `bun:"task_id,notnull,unique"`
	ExperienceID string       `bun:"experience_id,notnull"`
	OwnerID      string       `bun:"owner_id,notnull"`
	Amount       int64        `bun:"amount,notnull"`
	Status       MiningStatus `bun:"status,notnull"`
	FailReason   string       `bun:"fail_reason"`
	CreatedAt    time.Time    `bun:"created_at,notnull"`
	CompletedAt  time.Time    `bun:"completed_at,nullzero"`
}

// Terminal reports whether the task has already been settled one way or the
// other.
func (t *MiningTask) Terminal() bool {
	return t.Status == MiningStatusCompleted || t.Status == MiningStatusFailed
}
