// Package uima manages the weekly UIMA spending allowance: lazy credit
// refresh, bid placement and cancellation, and the eligibility gate in
// front of both.
package uima

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger/config"
	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/rockrlite/rks-ledger/rksledger/database/repositories"
	"github.com/rockrlite/rks-ledger/rksledger/economy/eligibility"
)

var (
	ErrNoAccount          = errors.New("no UIMA account available")
	ErrInsufficientCredit = errors.New("insufficient UIMA credit")
	ErrInvalidBid         = errors.New("invalid bid parameters")
	ErrBidTooSmall        = errors.New("bid is below the minimum bid amount")
)

// Config carries the domain settings the manager needs.
type Config struct {
	WeeklyCredit    int64
	TargetSeatPrice int64
	MinimumBid      int64
	Eligibility     eligibility.Config
}

// CreditStatus is a point-in-time view of an account's weekly allowance.
type CreditStatus struct {
	WeeklyCredit     int64
	Used             int64
	Remaining        int64
	NextRefresh      time.Time
	IsRefreshPending bool
}

// EligibilityResult reports whether an experience may be bid on with UIMA
// credit, and if so, how much.
type EligibilityResult struct {
	IsEligible   bool
	Reason       string
	MaxBidAmount int64
}

type Manager struct {
	accounts    repositories.AccountRepository
	allocations repositories.AllocationRepository
	cfg         Config
	sweepTicker *time.Ticker
	done        chan struct{}
}

func NewManager(accounts repositories.AccountRepository, allocations repositories.AllocationRepository, cfg Config) *Manager {
	if accounts == nil {
		panic("account repository cannot be nil")
	}
	if allocations == nil {
		panic("allocation repository cannot be nil")
	}
	if cfg.WeeklyCredit <= 0 {
		cfg.WeeklyCredit = config.DefaultWeeklyCredit
	}
	if cfg.TargetSeatPrice <= 0 {
		cfg.TargetSeatPrice = config.DefaultTargetSeatPrice
	}

	return &Manager{
		accounts:    accounts,
		allocations: allocations,
		cfg:         cfg,
		done:        make(chan struct{}),
	}
}

// Account resolves the owner's UIMA account, refreshing its weekly credit
// first when the allowance has expired.
func (m *Manager) Account(ctx context.Context, ownerID string) (*models.Account, error) {
	account, err := m.accounts.GetByOwner(ctx, ownerID, models.AccountTypeUIMA)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrNoAccount
		}
		return nil, fmt.Errorf("failed to resolve UIMA account: %w", err)
	}

	if err := m.EnsureFreshCredit(ctx, account, time.Now()); err != nil {
		return nil, err
	}
	return account, nil
}

// EnsureFreshCredit applies the lazy weekly reset: when now is past the
// account's expiration, the allowance is restored to the configured weekly
// amount and the expiration advances one credit period. Unused credit is
// discarded, not carried over. Callers must run this before relying on
// WeeklyCredit.
func (m *Manager) EnsureFreshCredit(ctx context.Context, account *models.Account, now time.Time) error {
	if !account.CreditExpired(now) {
		return nil
	}

	expiration := now.Add(config.CreditPeriod)
	applied, err := m.accounts.RefreshCredit(ctx, account.ID, m.cfg.WeeklyCredit, expiration, now)
	if err != nil {
		return fmt.Errorf("failed to refresh weekly credit: %w", err)
	}

	if applied {
		account.WeeklyCredit = m.cfg.WeeklyCredit
		account.WeeklyExpiration = expiration
		slog.Info("Weekly UIMA credit refreshed",
			slog.String("type", "ledger"),
			slog.Int64("account_id", account.ID),
			slog.Int64("weekly_credit", m.cfg.WeeklyCredit),
			slog.Time("next_refresh", expiration))
		return nil
	}

	// Another caller won the refresh; pick up its result.
	fresh, err := m.accounts.GetByID(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("failed to reload account after refresh: %w", err)
	}
	account.WeeklyCredit = fresh.WeeklyCredit
	account.WeeklyExpiration = fresh.WeeklyExpiration
	return nil
}

// CreditStatus reports the owner's current allowance, used and remaining
// amounts. The weekly refresh runs first, so the numbers reflect the
// current credit period.
func (m *Manager) CreditStatus(ctx context.Context, ownerID string) (*CreditStatus, error) {
	account, err := m.Account(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	reserved, err := m.allocations.ReservedSum(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum reserved allocations: %w", err)
	}

	return &CreditStatus{
		WeeklyCredit:     account.WeeklyCredit,
		Used:             reserved,
		Remaining:        account.WeeklyCredit - reserved,
		NextRefresh:      account.WeeklyExpiration,
		IsRefreshPending: account.CreditExpired(time.Now()),
	}, nil
}

// PlaceBid reserves amount of the owner's weekly credit for an experience.
// The affordability check and the credit decrement commit atomically; two
// concurrent bids cannot both pass against a stale balance.
func (m *Manager) PlaceBid(ctx context.Context, ownerID, experienceID string, amount int64, expiry time.Time) (*models.UIMAllocation, error) {
	if experienceID == "" || amount <= 0 {
		return nil, ErrInvalidBid
	}
	if m.cfg.MinimumBid > 0 && amount < m.cfg.MinimumBid {
		return nil, ErrBidTooSmall
	}

	account, err := m.Account(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	reserved, err := m.allocations.ReservedSum(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum reserved allocations: %w", err)
	}
	if amount > account.WeeklyCredit-reserved {
		return nil, ErrInsufficientCredit
	}

	if expiry.IsZero() {
		expiry = time.Now().Add(config.DefaultBidExpiry)
	}

	alloc := &models.UIMAllocation{
		AccountID:    account.ID,
		ExperienceID: experienceID,
		Amount:       amount,
		Type:         models.AllocationTypeBid,
		Status:       models.AllocationStatusPending,
		ExpiryDate:   expiry,
	}

	// Reserve re-verifies against the row-locked account; the in-memory
	// check above only produces a friendlier early failure.
	ok, err := m.allocations.Reserve(ctx, alloc)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve bid: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientCredit
	}

	slog.Info("Bid placed",
		slog.String("type", "ledger"),
		slog.String("owner_id", ownerID),
		slog.String("experience_id", experienceID),
		slog.Int64("amount", amount),
		slog.Time("expiry", expiry))

	return alloc, nil
}

// CancelBid cancels a pending bid and refunds its credit. Cancelling an
// allocation in any terminal state is not an error; it reports false and
// refunds nothing.
func (m *Manager) CancelBid(ctx context.Context, ownerID string, allocationID int64) (bool, error) {
	account, err := m.Account(ctx, ownerID)
	if err != nil {
		return false, err
	}

	alloc, err := m.allocations.GetByID(ctx, allocationID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get allocation: %w", err)
	}

	if alloc.AccountID != account.ID {
		return false, nil
	}
	if !alloc.CanTransition(models.AllocationStatusCancelled) {
		return false, nil
	}

	cancelled, err := m.allocations.CancelAndRefund(ctx, alloc.ID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel bid: %w", err)
	}

	if cancelled {
		slog.Info("Bid cancelled",
			slog.String("type", "ledger"),
			slog.String("owner_id", ownerID),
			slog.Int64("allocation_id", allocationID),
			slog.Int64("refunded", alloc.Amount))
	}
	return cancelled, nil
}

// CheckEligibility gates an experience against the domain allow-lists and
// the owner's remaining credit, capping the bid at half the target seat
// price.
func (m *Manager) CheckEligibility(ctx context.Context, ownerID string, params eligibility.Params) (*EligibilityResult, error) {
	if !eligibility.Check(m.cfg.Eligibility, params) {
		return &EligibilityResult{
			IsEligible: false,
			Reason:     "experience type, setting, subject, or genre not eligible for UIMA funding",
		}, nil
	}

	status, err := m.CreditStatus(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if status.Remaining <= 0 {
		return &EligibilityResult{
			IsEligible: false,
			Reason:     "no UIMA credits available",
		}, nil
	}

	return &EligibilityResult{
		IsEligible:   true,
		MaxBidAmount: min(status.Remaining, m.cfg.TargetSeatPrice/2),
	}, nil
}

// RecommendedBid is the default bid for an eligible experience: half the
// target seat price.
func (m *Manager) RecommendedBid() int64 {
	return m.cfg.TargetSeatPrice / 2
}

// BidHistory returns the owner's bids, newest first.
func (m *Manager) BidHistory(ctx context.Context, ownerID string) ([]*models.UIMAllocation, error) {
	account, err := m.Account(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return m.allocations.BidHistory(ctx, account.ID)
}

// Allocations returns every allocation on the owner's UIMA account.
func (m *Manager) Allocations(ctx context.Context, ownerID string) ([]*models.UIMAllocation, error) {
	account, err := m.Account(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return m.allocations.GetByAccount(ctx, account.ID)
}

// StartExpirySweep expires due pending allocations in the background.
// Expiry remains a data property; the sweep only makes it visible without
// waiting for the next read.
func (m *Manager) StartExpirySweep() {
	m.sweepTicker = time.NewTicker(config.AllocationSweepInterval)
	go func() {
		for {
			select {
			case <-m.done:
				return
			case <-m.sweepTicker.C:
				ctx, cancel := context.WithTimeout(context.Background(), config.SweepTimeout)
				if _, err := m.allocations.ExpireDue(ctx, time.Now()); err != nil {
					slog.Error("Failed to expire due allocations",
						slog.String("type", "ledger"),
						slog.String("error", err.Error()))
				}
				cancel()
			}
		}
	}()
}

func (m *Manager) Shutdown() {
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	close(m.done)
}
