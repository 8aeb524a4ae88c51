// Package mining tracks reward tasks from registration to settlement.
// A task settles into the owner's main account exactly once; the pending
// to completed flip is the idempotency gate.
package mining

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger/config"
	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/rockrlite/rks-ledger/rksledger/database/repositories"
	"github.com/rockrlite/rks-ledger/rksledger/economy/balance"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	ErrTaskNotFound   = errors.New("mining task not found")
	ErrTaskNotPending = errors.New("mining task already settled")
	ErrInvalidTask    = errors.New("invalid mining task parameters")
)

// Ledger is the slice of the ledger store the tracker needs to settle
// rewards.
type Ledger interface {
	AccountByOwner(ctx context.Context, ownerID string, accountType models.AccountType) (*models.Account, error)
	Credit(ctx context.Context, accountID int64, amount int64, txType models.TransactionType, metadata map[string]string) (*models.Transaction, error)
}

type Tracker struct {
	repo   repositories.MiningRepository
	ledger Ledger
	sem    *semaphore.Weighted
}

func NewTracker(repo repositories.MiningRepository, ledger Ledger) *Tracker {
	if repo == nil {
		panic("mining repository cannot be nil")
	}
	if ledger == nil {
		panic("ledger cannot be nil")
	}
	return &Tracker{
		repo:   repo,
		ledger: ledger,
		sem:    semaphore.NewWeighted(config.MaxConcurrentSettles),
	}
}

// RegisterTask records a pending reward for an experience. When amount is
// zero the reward defaults to the capacity-based mining formula.
func (t *Tracker) RegisterTask(ctx context.Context, experienceID, ownerID string, amount, capacityTarget int64) (*models.MiningTask, error) {
	if experienceID == "" || ownerID == "" {
		return nil, ErrInvalidTask
	}
	if amount <= 0 {
		amount = balance.MiningAmount(capacityTarget)
	}
	if amount <= 0 {
		return nil, ErrInvalidTask
	}

	task := &models.MiningTask{
		TaskID:       fmt.Sprintf("mining-%s-%d", experienceID, time.Now().UnixMilli()),
		ExperienceID: experienceID,
		OwnerID:      ownerID,
		Amount:       amount,
		Status:       models.MiningStatusPending,
		CreatedAt:    time.Now(),
	}

	if err := t.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to register mining task: %w", err)
	}

	slog.Info("Mining task registered",
		slog.String("type", "ledger"),
		slog.String("task_id", task.TaskID),
		slog.String("experience_id", experienceID),
		slog.Int64("amount", amount))

	return task, nil
}

// ProcessReward settles one task: the status flips to completed first, then
// the owner's main account is credited, so a reward can never be paid
// without a terminal task state. Re-processing a settled task reports
// ErrTaskNotPending and never credits twice.
func (t *Tracker) ProcessReward(ctx context.Context, taskID string) error {
	task, err := t.repo.GetByTaskID(ctx, taskID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to get mining task: %w", err)
	}

	if task.Terminal() {
		return ErrTaskNotPending
	}

	flipped, err := t.repo.MarkCompleted(ctx, taskID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to complete mining task: %w", err)
	}
	if !flipped {
		// Lost the race to another settle call.
		return ErrTaskNotPending
	}

	account, err := t.ledger.AccountByOwner(ctx, task.OwnerID, models.AccountTypeMain)
	if err != nil {
		return fmt.Errorf("failed to resolve main account for mining reward: %w", err)
	}

	_, err = t.ledger.Credit(ctx, account.ID, task.Amount, models.TransactionTypeMining, map[string]string{
		"experienceId": task.ExperienceID,
		"taskId":       task.TaskID,
	})
	if err != nil {
		return fmt.Errorf("failed to credit mining reward: %w", err)
	}

	slog.Info("Mining reward settled",
		slog.String("type", "ledger"),
		slog.String("task_id", taskID),
		slog.String("owner_id", task.OwnerID),
		slog.Int64("amount", task.Amount))

	return nil
}

// FailTask marks a pending task failed; no reward is paid. Reports false
// when the task was already terminal.
func (t *Tracker) FailTask(ctx context.Context, taskID, reason string) (bool, error) {
	failed, err := t.repo.MarkFailed(ctx, taskID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to fail mining task: %w", err)
	}

	if failed {
		slog.Warn("Mining task failed",
			slog.String("type", "ledger"),
			slog.String("task_id", taskID),
			slog.String("reason", reason))
	}
	return failed, nil
}

// Status returns the task's current lifecycle state.
func (t *Tracker) Status(ctx context.Context, taskID string) (models.MiningStatus, error) {
	task, err := t.repo.GetByTaskID(ctx, taskID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return "", ErrTaskNotFound
		}
		return "", fmt.Errorf("failed to get mining task: %w", err)
	}
	return task.Status, nil
}

// PendingAmount totals the owner's unsettled rewards.
func (t *Tracker) PendingAmount(ctx context.Context, ownerID string) (int64, error) {
	return t.repo.PendingAmount(ctx, ownerID)
}

// History returns the owner's tasks, newest first.
func (t *Tracker) History(ctx context.Context, ownerID string) ([]*models.MiningTask, error) {
	return t.repo.HistoryByOwner(ctx, ownerID)
}

// SettleBatch processes many task settlements concurrently, bounded by the
// settlement semaphore. Already-settled tasks are skipped, not errors; the
// first real failure aborts the batch.
func (t *Tracker) SettleBatch(ctx context.Context, taskIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, taskID := range taskIDs {
		taskID := taskID
		if err := t.sem.Acquire(gctx, 1); err != nil {
			return fmt.Errorf("failed to acquire settlement slot: %w", err)
		}

		g.Go(func() error {
			defer t.sem.Release(1)

			err := t.ProcessReward(gctx, taskID)
			if errors.Is(err, ErrTaskNotPending) {
				slog.Debug("Skipping already-settled mining task",
					slog.String("type", "ledger"),
					slog.String("task_id", taskID))
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
