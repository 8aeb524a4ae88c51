package mining

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/rockrlite/rks-ledger/rksledger/database/repositories"
)

// fakeMiningRepo keeps tasks in memory; MarkCompleted carries the same
// pending-only guard the SQL implementation enforces.
type fakeMiningRepo struct {
	mu    sync.Mutex
	tasks map[string]*models.MiningTask
}

func newFakeMiningRepo() *fakeMiningRepo {
	return &fakeMiningRepo{tasks: make(map[string]*models.MiningTask)}
}

func (r *fakeMiningRepo) Create(_ context.Context, task *models.MiningTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *task
	r.tasks[task.TaskID] = &copied
	return nil
}

func (r *fakeMiningRepo) GetByTaskID(_ context.Context, taskID string) (*models.MiningTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "mining_task", ID: taskID}
	}
	copied := *task
	return &copied, nil
}

func (r *fakeMiningRepo) MarkCompleted(_ context.Context, taskID string, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok || task.Status != models.MiningStatusPending {
		return false, nil
	}
	task.Status = models.MiningStatusCompleted
	task.CompletedAt = completedAt
	return true, nil
}

func (r *fakeMiningRepo) MarkFailed(_ context.Context, taskID string, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok || task.Status != models.MiningStatusPending {
		return false, nil
	}
	task.Status = models.MiningStatusFailed
	task.FailReason = reason
	return true, nil
}

func (r *fakeMiningRepo) PendingTasks(_ context.Context, limit int) ([]*models.MiningTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MiningTask
	for _, task := range r.tasks {
		if task.Status == models.MiningStatusPending && len(out) < limit {
			copied := *task
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeMiningRepo) PendingAmount(_ context.Context, ownerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, task := range r.tasks {
		if task.OwnerID == ownerID && task.Status == models.MiningStatusPending {
			sum += task.Amount
		}
	}
	return sum, nil
}

func (r *fakeMiningRepo) HistoryByOwner(_ context.Context, ownerID string) ([]*models.MiningTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MiningTask
	for _, task := range r.tasks {
		if task.OwnerID == ownerID {
			copied := *task
			out = append(out, &copied)
		}
	}
	return out, nil
}

// fakeLedger records credits against in-memory main account balances.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	credits  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int64)}
}

func (l *fakeLedger) AccountByOwner(_ context.Context, ownerID string, accountType models.AccountType) (*models.Account, error) {
	if accountType != models.AccountTypeMain {
		return nil, errors.New("unexpected account type")
	}
	return &models.Account{ID: 1, OwnerID: ownerID, Type: accountType, Status: models.AccountStatusActive}, nil
}

func (l *fakeLedger) Credit(_ context.Context, accountID int64, amount int64, txType models.TransactionType, metadata map[string]string) (*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances["owner-1"] += amount
	l.credits++
	return &models.Transaction{
		ToAccountID: "1",
		Amount:      amount,
		Type:        txType,
		Status:      models.TransactionStatusCompleted,
		Metadata:    metadata,
	}, nil
}

func Test_RegisterTask(t *testing.T) {
	tests := []struct {
		name         string
		experienceID string
		ownerID      string
		amount       int64
		capacity     int64
		wantAmount   int64
		wantErr      error
	}{
		{
			name:         "explicit amount",
			experienceID: "exp1",
			ownerID:      "owner-1",
			amount:       5000,
			wantAmount:   5000,
		},
		{
			name:         "amount defaults to capacity formula",
			experienceID: "exp1",
			ownerID:      "owner-1",
			capacity:     50,
			wantAmount:   4000,
		},
		{
			name:    "missing experience",
			ownerID: "owner-1",
			amount:  5000,
			wantErr: ErrInvalidTask,
		},
		{
			name:         "no amount and no capacity",
			experienceID: "exp1",
			ownerID:      "owner-1",
			wantErr:      ErrInvalidTask,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(newFakeMiningRepo(), newFakeLedger())

			task, err := tracker.RegisterTask(context.Background(), tt.experienceID, tt.ownerID, tt.amount, tt.capacity)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RegisterTask() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if task.Amount != tt.wantAmount {
				t.Errorf("RegisterTask() amount = %d, want %d", task.Amount, tt.wantAmount)
			}
			if task.Status != models.MiningStatusPending {
				t.Errorf("RegisterTask() status = %s, want pending", task.Status)
			}
			if !strings.HasPrefix(task.TaskID, "mining-exp1-") {
				t.Errorf("RegisterTask() task id = %q", task.TaskID)
			}
		})
	}
}

func Test_ProcessReward_SettlesExactlyOnce(t *testing.T) {
	repo := newFakeMiningRepo()
	ledger := newFakeLedger()
	tracker := NewTracker(repo, ledger)
	ctx := context.Background()

	task, err := tracker.RegisterTask(ctx, "exp1", "owner-1", 4000, 0)
	if err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	if err := tracker.ProcessReward(ctx, task.TaskID); err != nil {
		t.Fatalf("ProcessReward() first call error = %v", err)
	}
	if ledger.balances["owner-1"] != 4000 {
		t.Errorf("balance after settle = %d, want 4000", ledger.balances["owner-1"])
	}

	// Second call must be a reported no-op with the balance unchanged.
	if err := tracker.ProcessReward(ctx, task.TaskID); !errors.Is(err, ErrTaskNotPending) {
		t.Fatalf("ProcessReward() second call error = %v, want ErrTaskNotPending", err)
	}
	if ledger.credits != 1 {
		t.Errorf("credited %d times, want exactly once", ledger.credits)
	}
	if ledger.balances["owner-1"] != 4000 {
		t.Errorf("balance after double settle = %d, want 4000", ledger.balances["owner-1"])
	}

	status, err := tracker.Status(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != models.MiningStatusCompleted {
		t.Errorf("Status() = %s, want completed", status)
	}
}

func Test_ProcessReward_UnknownTask(t *testing.T) {
	tracker := NewTracker(newFakeMiningRepo(), newFakeLedger())

	if err := tracker.ProcessReward(context.Background(), "mining-ghost-1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("ProcessReward() error = %v, want ErrTaskNotFound", err)
	}
}

func Test_FailTask(t *testing.T) {
	repo := newFakeMiningRepo()
	ledger := newFakeLedger()
	tracker := NewTracker(repo, ledger)
	ctx := context.Background()

	task, err := tracker.RegisterTask(ctx, "exp1", "owner-1", 4000, 0)
	if err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	failed, err := tracker.FailTask(ctx, task.TaskID, "experience cancelled")
	if err != nil {
		t.Fatalf("FailTask() error = %v", err)
	}
	if !failed {
		t.Fatal("FailTask() = false, want true")
	}

	// A failed task pays nothing and cannot be settled afterwards.
	if err := tracker.ProcessReward(ctx, task.TaskID); !errors.Is(err, ErrTaskNotPending) {
		t.Errorf("ProcessReward() after fail error = %v, want ErrTaskNotPending", err)
	}
	if ledger.credits != 0 {
		t.Errorf("credited %d times after failure, want 0", ledger.credits)
	}

	// Failing again reports false.
	failed, err = tracker.FailTask(ctx, task.TaskID, "again")
	if err != nil {
		t.Fatalf("FailTask() error = %v", err)
	}
	if failed {
		t.Error("FailTask() on terminal task = true, want false")
	}
}

func Test_PendingAmount(t *testing.T) {
	repo := newFakeMiningRepo()
	tracker := NewTracker(repo, newFakeLedger())
	ctx := context.Background()

	first, err := tracker.RegisterTask(ctx, "exp1", "owner-1", 4000, 0)
	if err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	if _, err := tracker.RegisterTask(ctx, "exp2", "owner-1", 2000, 0); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	sum, err := tracker.PendingAmount(ctx, "owner-1")
	if err != nil {
		t.Fatalf("PendingAmount() error = %v", err)
	}
	if sum != 6000 {
		t.Errorf("PendingAmount() = %d, want 6000", sum)
	}

	if err := tracker.ProcessReward(ctx, first.TaskID); err != nil {
		t.Fatalf("ProcessReward() error = %v", err)
	}
	sum, err = tracker.PendingAmount(ctx, "owner-1")
	if err != nil {
		t.Fatalf("PendingAmount() error = %v", err)
	}
	if sum != 2000 {
		t.Errorf("PendingAmount() after settle = %d, want 2000", sum)
	}
}

func Test_SettleBatch(t *testing.T) {
	repo := newFakeMiningRepo()
	ledger := newFakeLedger()
	tracker := NewTracker(repo, ledger)
	ctx := context.Background()

	var taskIDs []string
	for i := 0; i < 8; i++ {
		task, err := tracker.RegisterTask(ctx, "exp1", "owner-1", 1000, 0)
		if err != nil {
			t.Fatalf("RegisterTask() error = %v", err)
		}
		taskIDs = append(taskIDs, task.TaskID)
		// TaskID embeds a millisecond timestamp; keep ids distinct.
		time.Sleep(2 * time.Millisecond)
	}

	// One task already settled: the batch must skip it, not fail.
	if err := tracker.ProcessReward(ctx, taskIDs[0]); err != nil {
		t.Fatalf("ProcessReward() error = %v", err)
	}

	if err := tracker.SettleBatch(ctx, taskIDs); err != nil {
		t.Fatalf("SettleBatch() error = %v", err)
	}
	if ledger.balances["owner-1"] != 8000 {
		t.Errorf("balance after batch = %d, want 8000", ledger.balances["owner-1"])
	}
	if ledger.credits != 8 {
		t.Errorf("credited %d times, want 8", ledger.credits)
	}
}
