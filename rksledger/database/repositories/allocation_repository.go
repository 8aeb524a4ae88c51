package repositories

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/uptrace/bun"
)

type AllocationRepository interface {
	GetByID(ctx context.Context, id int64) (*models.UIMAllocation, error)
	GetByAccount(ctx context.Context, accountID int64) ([]*models.UIMAllocation, error)
	// BidHistory returns the account's bid-typed allocations, newest first.
	BidHistory(ctx context.Context, accountID int64) ([]*models.UIMAllocation, error)
	// ReservedSum totals the pending and locked allocations still counting
	// against the account's weekly credit.
	ReservedSum(ctx context.Context, accountID int64) (int64, error)
	// Reserve atomically re-checks affordability against the row-locked
	// account, inserts the pending allocation and decrements the weekly
	// credit. Reports false when the credit check fails.
	Reserve(ctx context.Context, alloc *models.UIMAllocation) (bool, error)
	// CancelAndRefund cancels a pending allocation and restores its amount
	// to the account's weekly credit. Reports false when the allocation is
	// not pending.
	CancelAndRefund(ctx context.Context, id int64) (bool, error)
	// UpdateStatus transitions id from one status to another; reports false
	// when the current status does not match from.
	UpdateStatus(ctx context.Context, id int64, from, to models.AllocationStatus) (bool, error)
	// ExpireDue marks pending allocations past their expiry as expired and
	// refunds their credit. Returns the number of allocations expired.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

type allocationRepository struct {
	*BaseRepository
}

func NewAllocationRepository(db *bun.DB) AllocationRepository {
	return &allocationRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *allocationRepository) GetByID(ctx context.Context, id int64) (*models.UIMAllocation, error) {
	alloc := new(models.UIMAllocation)
	err := r.GetDB().NewSelect().
		Model(alloc).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("get", "uima_allocation", id, err)
	}
	return alloc, nil
}

func (r *allocationRepository) GetByAccount(ctx context.Context, accountID int64) ([]*models.UIMAllocation, error) {
	var allocs []*models.UIMAllocation
	err := r.GetDB().NewSelect().
		Model(&allocs).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("get_by_account", "uima_allocation", accountID, err)
	}
	return allocs, nil
}

func (r *allocationRepository) BidHistory(ctx context.Context, accountID int64) ([]*models.UIMAllocation, error) {
	var allocs []*models.UIMAllocation
	err := r.GetDB().NewSelect().
		Model(&allocs).
		Where("account_id = ? AND type = ?", accountID, models.AllocationTypeBid).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("bid_history", "uima_allocation", accountID, err)
	}
	return allocs, nil
}

func (r *allocationRepository) ReservedSum(ctx context.Context, accountID int64) (int64, error) {
	var sum int64
	err := r.GetDB().NewSelect().
		Model((*models.UIMAllocation)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("account_id = ? AND status IN (?, ?)",
			accountID, models.AllocationStatusPending, models.AllocationStatusLocked).
		Scan(ctx, &sum)
	if err != nil {
		return 0, r.HandleErrorWithID("reserved_sum", "uima_allocation", accountID, err)
	}
	return sum, nil
}

func (r *allocationRepository) Reserve(ctx context.Context, alloc *models.UIMAllocation) (bool, error) {
	reserved := false
	err := r.SerializableTransaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		var account models.Account
		err := tx.NewSelect().
			Model(&account).
			Where("id = ?", alloc.AccountID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return err
		}

		var sum int64
		err = tx.NewSelect().
			Model((*models.UIMAllocation)(nil)).
			ColumnExpr("COALESCE(SUM(amount), 0)").
			Where("account_id = ? AND status IN (?, ?)",
				alloc.AccountID, models.AllocationStatusPending, models.AllocationStatusLocked).
			Scan(ctx, &sum)
		if err != nil {
			return err
		}

		if alloc.Amount > account.WeeklyCredit-sum {
			return nil
		}

		alloc.Status = models.AllocationStatusPending
		alloc.CreatedAt = time.Now()
		alloc.UpdatedAt = alloc.CreatedAt
		if _, err = tx.NewInsert().Model(alloc).Exec(ctx); err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("weekly_credit = weekly_credit - ?", alloc.Amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", alloc.AccountID).
			Exec(ctx)
		if err != nil {
			return err
		}

		reserved = true
		return nil
	})
	if err != nil {
		return false, r.HandleErrorWithID("reserve", "uima_allocation", alloc.AccountID, err)
	}
	return reserved, nil
}

func (r *allocationRepository) CancelAndRefund(ctx context.Context, id int64) (bool, error) {
	cancelled := false
	err := r.SerializableTransaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		var alloc models.UIMAllocation
		err := tx.NewSelect().
			Model(&alloc).
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		if alloc.Status != models.AllocationStatusPending {
			return nil
		}

		_, err = tx.NewUpdate().
			Model((*models.UIMAllocation)(nil)).
			Set("status = ?", models.AllocationStatusCancelled).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("weekly_credit = weekly_credit + ?", alloc.Amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", alloc.AccountID).
			Exec(ctx)
		if err != nil {
			return err
		}

		cancelled = true
		return nil
	})
	if err != nil {
		return false, r.HandleErrorWithID("cancel_and_refund", "uima_allocation", id, err)
	}
	return cancelled, nil
}

func (r *allocationRepository) UpdateStatus(ctx context.Context, id int64, from, to models.AllocationStatus) (bool, error) {
	result, err := r.GetDB().NewUpdate().
		Model((*models.UIMAllocation)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, from).
		Exec(ctx)
	if err != nil {
		return false, r.HandleErrorWithID("update_status", "uima_allocation", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, r.HandleErrorWithID("update_status", "uima_allocation", id, err)
	}
	return rows > 0, nil
}

func (r *allocationRepository) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := r.SerializableTransaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		var due []*models.UIMAllocation
		err := tx.NewSelect().
			Model(&due).
			Where("status = ? AND expiry_date < ?", models.AllocationStatusPending, now).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return err
		}

		for _, alloc := range due {
			_, err = tx.NewUpdate().
				Model((*models.UIMAllocation)(nil)).
				Set("status = ?", models.AllocationStatusExpired).
				Set("updated_at = ?", now).
				Where("id = ?", alloc.ID).
				Exec(ctx)
			if err != nil {
				return err
			}

			_, err = tx.NewUpdate().
				Model((*models.Account)(nil)).
				Set("weekly_credit = weekly_credit + ?", alloc.Amount).
				Set("updated_at = ?", now).
				Where("id = ?", alloc.AccountID).
				Exec(ctx)
			if err != nil {
				return err
			}

			expired++
		}
		return nil
	})
	if err != nil {
		return 0, r.HandleError("expire_due", "uima_allocation", err)
	}

	if expired > 0 {
		slog.Info("Expired pending allocations",
			slog.String("type", "db"),
			slog.Int("count", expired))
	}
	return expired, nil
}
