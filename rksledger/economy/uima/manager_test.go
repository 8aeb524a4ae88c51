package uima

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/rockrlite/rks-ledger/rksledger/database/repositories"
	"github.com/rockrlite/rks-ledger/rksledger/economy/eligibility"
)

// fakeAccountRepo keeps accounts in memory and mirrors the SQL guard
// semantics of the real repository.
type fakeAccountRepo struct {
	accounts map[int64]*models.Account
	nextID   int64
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[int64]*models.Account), nextID: 1}
}

func (r *fakeAccountRepo) Create(_ context.Context, account *models.Account) error {
	account.ID = r.nextID
	r.nextID++
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id int64) (*models.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "account", ID: id}
	}
	copied := *account
	return &copied, nil
}

func (r *fakeAccountRepo) GetByOwner(_ context.Context, ownerID string, accountType models.AccountType) (*models.Account, error) {
	for _, account := range r.accounts {
		if account.OwnerID == ownerID && account.Type == accountType {
			copied := *account
			return &copied, nil
		}
	}
	return nil, &repositories.NotFoundError{Entity: "account", ID: ownerID}
}

func (r *fakeAccountRepo) Update(_ context.Context, account *models.Account) error {
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *fakeAccountRepo) UpdateStatus(_ context.Context, id int64, status models.AccountStatus) error {
	account, ok := r.accounts[id]
	if !ok {
		return &repositories.NotFoundError{Entity: "account", ID: id}
	}
	account.Status = status
	return nil
}

func (r *fakeAccountRepo) RefreshCredit(_ context.Context, id int64, credit int64, expiration, now time.Time) (bool, error) {
	account, ok := r.accounts[id]
	if !ok {
		return false, &repositories.NotFoundError{Entity: "account", ID: id}
	}
	if !account.WeeklyExpiration.Before(now) {
		return false, nil
	}
	account.WeeklyCredit = credit
	account.WeeklyExpiration = expiration
	return true, nil
}

func (r *fakeAccountRepo) AddWeeklyCredit(_ context.Context, id int64, delta int64) error {
	account, ok := r.accounts[id]
	if !ok {
		return &repositories.NotFoundError{Entity: "account", ID: id}
	}
	account.WeeklyCredit += delta
	return nil
}

// fakeAllocationRepo mirrors Reserve/CancelAndRefund including their credit
// side effects on the account repo.
type fakeAllocationRepo struct {
	accounts *fakeAccountRepo
	allocs   map[int64]*models.UIMAllocation
	nextID   int64
}

func newFakeAllocationRepo(accounts *fakeAccountRepo) *fakeAllocationRepo {
	return &fakeAllocationRepo{
		accounts: accounts,
		allocs:   make(map[int64]*models.UIMAllocation),
		nextID:   1,
	}
}

func (r *fakeAllocationRepo) GetByID(_ context.Context, id int64) (*models.UIMAllocation, error) {
	alloc, ok := r.allocs[id]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "uima_allocation", ID: id}
	}
	copied := *alloc
	return &copied, nil
}

func (r *fakeAllocationRepo) GetByAccount(_ context.Context, accountID int64) ([]*models.UIMAllocation, error) {
	var out []*models.UIMAllocation
	for _, alloc := range r.allocs {
		if alloc.AccountID == accountID {
			copied := *alloc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAllocationRepo) BidHistory(_ context.Context, accountID int64) ([]*models.UIMAllocation, error) {
	var out []*models.UIMAllocation
	for _, alloc := range r.allocs {
		if alloc.AccountID == accountID && alloc.Type == models.AllocationTypeBid {
			copied := *alloc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAllocationRepo) ReservedSum(_ context.Context, accountID int64) (int64, error) {
	var sum int64
	for _, alloc := range r.allocs {
		if alloc.AccountID == accountID && alloc.Reserved() {
			sum += alloc.Amount
		}
	}
	return sum, nil
}

func (r *fakeAllocationRepo) Reserve(ctx context.Context, alloc *models.UIMAllocation) (bool, error) {
	account, ok := r.accounts.accounts[alloc.AccountID]
	if !ok {
		return false, &repositories.NotFoundError{Entity: "account", ID: alloc.AccountID}
	}
	reserved, _ := r.ReservedSum(ctx, alloc.AccountID)
	if alloc.Amount > account.WeeklyCredit-reserved {
		return false, nil
	}
	alloc.ID = r.nextID
	r.nextID++
	copied := *alloc
	r.allocs[alloc.ID] = &copied
	account.WeeklyCredit -= alloc.Amount
	return true, nil
}

func (r *fakeAllocationRepo) CancelAndRefund(_ context.Context, id int64) (bool, error) {
	alloc, ok := r.allocs[id]
	if !ok {
		return false, nil
	}
	if alloc.Status != models.AllocationStatusPending {
		return false, nil
	}
	alloc.Status = models.AllocationStatusCancelled
	if account, ok := r.accounts.accounts[alloc.AccountID]; ok {
		account.WeeklyCredit += alloc.Amount
	}
	return true, nil
}

func (r *fakeAllocationRepo) UpdateStatus(_ context.Context, id int64, from, to models.AllocationStatus) (bool, error) {
	alloc, ok := r.allocs[id]
	if !ok || alloc.Status != from {
		return false, nil
	}
	alloc.Status = to
	return true, nil
}

func (r *fakeAllocationRepo) ExpireDue(_ context.Context, now time.Time) (int, error) {
	count := 0
	for _, alloc := range r.allocs {
		if alloc.Status == models.AllocationStatusPending && alloc.ExpiryDate.Before(now) {
			alloc.Status = models.AllocationStatusExpired
			if account, ok := r.accounts.accounts[alloc.AccountID]; ok {
				account.WeeklyCredit += alloc.Amount
			}
			count++
		}
	}
	return count, nil
}

func testManager(t *testing.T, weeklyCredit int64) (*Manager, *fakeAccountRepo, *fakeAllocationRepo) {
	t.Helper()
	accounts := newFakeAccountRepo()
	allocations := newFakeAllocationRepo(accounts)

	if err := accounts.Create(context.Background(), &models.Account{
		OwnerID:          "user-1",
		Type:             models.AccountTypeUIMA,
		Status:           models.AccountStatusActive,
		WeeklyCredit:     weeklyCredit,
		WeeklyExpiration: time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	m := NewManager(accounts, allocations, Config{
		WeeklyCredit:    18000,
		TargetSeatPrice: 6000,
		MinimumBid:      3000,
		Eligibility: eligibility.Config{
			Types:    []string{"workshop"},
			Settings: []string{"physical"},
		},
	})
	return m, accounts, allocations
}

func Test_PlaceBid(t *testing.T) {
	tests := []struct {
		name         string
		weeklyCredit int64
		ownerID      string
		experienceID string
		amount       int64
		wantErr      error
	}{
		{
			name:         "successful bid",
			weeklyCredit: 18000,
			ownerID:      "user-1",
			experienceID: "exp1",
			amount:       6000,
		},
		{
			name:         "insufficient credit",
			weeklyCredit: 5000,
			ownerID:      "user-1",
			experienceID: "exp1",
			amount:       6000,
			wantErr:      ErrInsufficientCredit,
		},
		{
			name:         "unknown owner",
			weeklyCredit: 18000,
			ownerID:      "ghost",
			experienceID: "exp1",
			amount:       6000,
			wantErr:      ErrNoAccount,
		},
		{
			name:         "below minimum bid",
			weeklyCredit: 18000,
			ownerID:      "user-1",
			experienceID: "exp1",
			amount:       1500,
			wantErr:      ErrBidTooSmall,
		},
		{
			name:         "missing experience",
			weeklyCredit: 18000,
			ownerID:      "user-1",
			amount:       6000,
			wantErr:      ErrInvalidBid,
		},
		{
			name:         "non-positive amount",
			weeklyCredit: 18000,
			ownerID:      "user-1",
			experienceID: "exp1",
			amount:       -100,
			wantErr:      ErrInvalidBid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, accounts, _ := testManager(t, tt.weeklyCredit)

			alloc, err := m.PlaceBid(context.Background(), tt.ownerID, tt.experienceID, tt.amount, time.Time{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PlaceBid() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				// A failed bid must not touch the allowance.
				account := accounts.accounts[1]
				if account != nil && account.WeeklyCredit != tt.weeklyCredit {
					t.Errorf("PlaceBid() weekly credit = %d, want %d untouched", account.WeeklyCredit, tt.weeklyCredit)
				}
				return
			}
			if alloc.Status != models.AllocationStatusPending {
				t.Errorf("PlaceBid() status = %s, want pending", alloc.Status)
			}
			if alloc.ExpiryDate.IsZero() {
				t.Error("PlaceBid() expiry not defaulted")
			}
			if got := accounts.accounts[1].WeeklyCredit; got != tt.weeklyCredit-tt.amount {
				t.Errorf("PlaceBid() weekly credit = %d, want %d", got, tt.weeklyCredit-tt.amount)
			}
		})
	}
}

func Test_CancelBid(t *testing.T) {
	tests := []struct {
		name       string
		status     models.AllocationStatus
		want       bool
		wantCredit int64
	}{
		{name: "pending bid refunds", status: models.AllocationStatusPending, want: true, wantCredit: 18000},
		{name: "mined bid is a reported no-op", status: models.AllocationStatusMined, want: false, wantCredit: 12000},
		{name: "expired bid is a reported no-op", status: models.AllocationStatusExpired, want: false, wantCredit: 12000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, accounts, allocations := testManager(t, 18000)

			alloc, err := m.PlaceBid(context.Background(), "user-1", "exp1", 6000, time.Time{})
			if err != nil {
				t.Fatalf("PlaceBid() error = %v", err)
			}
			allocations.allocs[alloc.ID].Status = tt.status

			got, err := m.CancelBid(context.Background(), "user-1", alloc.ID)
			if err != nil {
				t.Fatalf("CancelBid() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CancelBid() = %v, want %v", got, tt.want)
			}
			if credit := accounts.accounts[1].WeeklyCredit; credit != tt.wantCredit {
				t.Errorf("CancelBid() weekly credit = %d, want %d", credit, tt.wantCredit)
			}
		})
	}
}

func Test_CancelBid_WrongOwner(t *testing.T) {
	m, accounts, _ := testManager(t, 18000)

	if err := accounts.Create(context.Background(), &models.Account{
		OwnerID:          "user-2",
		Type:             models.AccountTypeUIMA,
		Status:           models.AccountStatusActive,
		WeeklyCredit:     18000,
		WeeklyExpiration: time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	alloc, err := m.PlaceBid(context.Background(), "user-1", "exp1", 6000, time.Time{})
	if err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}

	got, err := m.CancelBid(context.Background(), "user-2", alloc.ID)
	if err != nil {
		t.Fatalf("CancelBid() error = %v", err)
	}
	if got {
		t.Error("CancelBid() cancelled another owner's allocation")
	}
}

func Test_CreditNeverNegative(t *testing.T) {
	m, accounts, _ := testManager(t, 18000)
	ctx := context.Background()

	var cancelIDs []int64
	for i := 0; i < 10; i++ {
		alloc, err := m.PlaceBid(ctx, "user-1", "exp1", 3000, time.Time{})
		if err != nil {
			if !errors.Is(err, ErrInsufficientCredit) {
				t.Fatalf("PlaceBid() error = %v", err)
			}
			continue
		}
		if i%2 == 0 {
			cancelIDs = append(cancelIDs, alloc.ID)
		}
	}
	for _, id := range cancelIDs {
		if _, err := m.CancelBid(ctx, "user-1", id); err != nil {
			t.Fatalf("CancelBid() error = %v", err)
		}
	}

	if credit := accounts.accounts[1].WeeklyCredit; credit < 0 {
		t.Errorf("weekly credit went negative: %d", credit)
	}
}

func Test_EnsureFreshCredit(t *testing.T) {
	m, accounts, _ := testManager(t, 18000)
	ctx := context.Background()

	// Drain some credit, then expire the period.
	if _, err := m.PlaceBid(ctx, "user-1", "exp1", 6000, time.Time{}); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	accounts.accounts[1].WeeklyExpiration = time.Now().Add(-time.Hour)

	account, err := m.Account(ctx, "user-1")
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}

	// Unused credit is discarded on reset, not carried over.
	if account.WeeklyCredit != 18000 {
		t.Errorf("refreshed credit = %d, want 18000", account.WeeklyCredit)
	}
	if !account.WeeklyExpiration.After(time.Now().Add(6 * 24 * time.Hour)) {
		t.Errorf("expiration not advanced a full period: %v", account.WeeklyExpiration)
	}
}

func Test_EnsureFreshCredit_NotDue(t *testing.T) {
	m, accounts, _ := testManager(t, 12000)

	account, err := m.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if account.WeeklyCredit != 12000 {
		t.Errorf("credit = %d, want 12000 untouched before expiry", account.WeeklyCredit)
	}
	if got := accounts.accounts[1].WeeklyCredit; got != 12000 {
		t.Errorf("stored credit = %d, want 12000", got)
	}
}

func Test_CreditStatus(t *testing.T) {
	m, _, _ := testManager(t, 18000)
	ctx := context.Background()

	if _, err := m.PlaceBid(ctx, "user-1", "exp1", 6000, time.Time{}); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}

	status, err := m.CreditStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreditStatus() error = %v", err)
	}
	if status.WeeklyCredit != 12000 {
		t.Errorf("CreditStatus() weekly = %d, want 12000", status.WeeklyCredit)
	}
	if status.Used != 6000 {
		t.Errorf("CreditStatus() used = %d, want 6000", status.Used)
	}
	if status.Remaining != 6000 {
		t.Errorf("CreditStatus() remaining = %d, want 6000", status.Remaining)
	}
	if status.IsRefreshPending {
		t.Error("CreditStatus() refresh pending before expiry")
	}
}

func Test_CheckEligibility(t *testing.T) {
	tests := []struct {
		name       string
		params     eligibility.Params
		spent      int64
		wantOK     bool
		wantMaxBid int64
	}{
		{
			name:       "eligible capped at half seat price",
			params:     eligibility.Params{Type: "workshop", Setting: "physical"},
			wantOK:     true,
			wantMaxBid: 3000,
		},
		{
			name:   "ineligible type",
			params: eligibility.Params{Type: "concert", Setting: "physical"},
			wantOK: false,
		},
		{
			name:   "no remaining credit",
			params: eligibility.Params{Type: "workshop", Setting: "physical"},
			spent:  9000,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := testManager(t, 18000)
			ctx := context.Background()

			if tt.spent > 0 {
				if _, err := m.PlaceBid(ctx, "user-1", "warmup", tt.spent, time.Time{}); err != nil {
					t.Fatalf("PlaceBid() error = %v", err)
				}
			}

			got, err := m.CheckEligibility(ctx, "user-1", tt.params)
			if err != nil {
				t.Fatalf("CheckEligibility() error = %v", err)
			}
			if got.IsEligible != tt.wantOK {
				t.Errorf("CheckEligibility() IsEligible = %v, want %v (reason %q)", got.IsEligible, tt.wantOK, got.Reason)
			}
			if tt.wantOK && got.MaxBidAmount != tt.wantMaxBid {
				t.Errorf("CheckEligibility() MaxBidAmount = %d, want %d", got.MaxBidAmount, tt.wantMaxBid)
			}
			if !tt.wantOK && got.Reason == "" {
				t.Error("CheckEligibility() ineligible result carries no reason")
			}
		})
	}
}

func Test_RecommendedBid(t *testing.T) {
	m, _, _ := testManager(t, 18000)
	if got := m.RecommendedBid(); got != 3000 {
		t.Errorf("RecommendedBid() = %d, want 3000", got)
	}
}
