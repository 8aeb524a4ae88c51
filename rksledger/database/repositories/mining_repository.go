package repositories

import (
	"context"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/uptrace/bun"
)

type MiningRepository interface {
	Create(ctx context.Context, task *models.MiningTask) error
	GetByTaskID(ctx context.Context, taskID string) (*models.MiningTask, error)
	// MarkCompleted flips a pending task to completed; reports false when
	// the task was already terminal. The guard is the exactly-once gate for
	// settlement.
	MarkCompleted(ctx context.Context, taskID string, completedAt time.Time) (bool, error)
	// MarkFailed flips a pending task to failed with a reason.
	MarkFailed(ctx context.Context, taskID string, reason string) (bool, error)
	PendingTasks(ctx context.Context, limit int) ([]*models.MiningTask, error)
	// PendingAmount totals the owner's unsettled rewards.
	PendingAmount(ctx context.Context, ownerID string) (int64, error)
	HistoryByOwner(ctx context.Context, ownerID string) ([]*models.MiningTask, error)
}

type miningRepository struct {
	*BaseRepository
}

func NewMiningRepository(db *bun.DB) MiningRepository {
	return &miningRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *miningRepository) Create(ctx context.Context, task *models.MiningTask) error {
	_, err := r.GetDB().NewInsert().Model(task).Exec(ctx)
	return r.HandleErrorWithID("create", "mining_task", task.TaskID, err)
}

func (r *miningRepository) GetByTaskID(ctx context.Context, taskID string) (*models.MiningTask, error) {
	task := new(models.MiningTask)
	err := r.GetDB().NewSelect().
		Model(task).
		Where("task_id = ?", taskID).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("get", "mining_task", taskID, err)
	}
	return task, nil
}

func (r *miningRepository) MarkCompleted(ctx context.Context, taskID string, completedAt time.Time) (bool, error) {
	result, err := r.GetDB().NewUpdate().
		Model((*models.MiningTask)(nil)).
		Set("status = ?", models.MiningStatusCompleted).
		Set("completed_at = ?", completedAt).
		Where("task_id = ? AND status = ?", taskID, models.MiningStatusPending).
		Exec(ctx)
	if err != nil {
		return false, r.HandleErrorWithID("mark_completed", "mining_task", taskID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, r.HandleErrorWithID("mark_completed", "mining_task", taskID, err)
	}
	return rows > 0, nil
}

func (r *miningRepository) MarkFailed(ctx context.Context, taskID string, reason string) (bool, error) {
	result, err := r.GetDB().NewUpdate().
		Model((*models.MiningTask)(nil)).
		Set("status = ?", models.MiningStatusFailed).
		Set("fail_reason = ?", reason).
		Set("completed_at = ?", time.Now()).
		Where("task_id = ? AND status = ?", taskID, models.MiningStatusPending).
		Exec(ctx)
	if err != nil {
		return false, r.HandleErrorWithID("mark_failed", "mining_task", taskID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, r.HandleErrorWithID("mark_failed", "mining_task", taskID, err)
	}
	return rows > 0, nil
}

func (r *miningRepository) PendingTasks(ctx context.Context, limit int) ([]*models.MiningTask, error) {
	var tasks []*models.MiningTask
	err := r.GetDB().NewSelect().
		Model(&tasks).
		Where("status = ?", models.MiningStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("pending_tasks", "mining_task", err)
	}
	return tasks, nil
}

func (r *miningRepository) PendingAmount(ctx context.Context, ownerID string) (int64, error) {
	var sum int64
	err := r.GetDB().NewSelect().
		Model((*models.MiningTask)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("owner_id = ? AND status = ?", ownerID, models.MiningStatusPending).
		Scan(ctx, &sum)
	if err != nil {
		return 0, r.HandleErrorWithID("pending_amount", "mining_task", ownerID, err)
	}
	return sum, nil
}

func (r *miningRepository) HistoryByOwner(ctx context.Context, ownerID string) ([]*models.MiningTask, error) {
	var tasks []*models.MiningTask
	err := r.GetDB().NewSelect().
		Model(&tasks).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("history_by_owner", "mining_task", ownerID, err)
	}
	return tasks, nil
}
