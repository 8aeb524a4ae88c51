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

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByOwner(ctx context.Context, ownerID string, accountType models.AccountType) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	UpdateStatus(ctx context.Context, id int64, status models.AccountStatus) error
	// RefreshCredit resets the weekly allowance iff the stored expiration is
	// behind now; reports whether a reset happened. The guard lives in SQL
	// so two concurrent refreshes cannot both apply.
	RefreshCredit(ctx context.Context, id int64, credit int64, expiration, now time.Time) (bool, error)
	// AddWeeklyCredit adds delta to the weekly allowance (bid refunds).
	AddWeeklyCredit(ctx context.Context, id int64, delta int64) error
}

type accountRepository struct {
	*BaseRepository
}

func NewAccountRepository(db *bun.DB) AccountRepository {
	return &accountRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	_, err := r.GetDB().NewInsert().Model(account).Exec(ctx)
	return r.HandleError("create", "account", err)
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	account := new(models.Account)
	err := r.GetDB().NewSelect().
		Model(account).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("get", "account", id, err)
	}
	return account, nil
}

func (r *accountRepository) GetByOwner(ctx context.Context, ownerID string, accountType models.AccountType) (*models.Account, error) {
	account := new(models.Account)
	err := r.GetDB().NewSelect().
		Model(account).
		Where("owner_id = ? AND type = ?", ownerID, accountType).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Debug("Account not found",
				slog.String("type", "db"),
				slog.String("owner_id", ownerID),
				slog.String("account_type", string(accountType)))
		}
		return nil, r.HandleErrorWithID("get_by_owner", "account", ownerID, err)
	}
	return account, nil
}

func (r *accountRepository) Update(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now()
	_, err := r.GetDB().NewUpdate().
		Model(account).
		WherePK().
		Exec(ctx)
	return r.HandleErrorWithID("update", "account", account.ID, err)
}

func (r *accountRepository) UpdateStatus(ctx context.Context, id int64, status models.AccountStatus) error {
	_, err := r.GetDB().NewUpdate().
		Model((*models.Account)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return r.HandleErrorWithID("update_status", "account", id, err)
}

func (r *accountRepository) RefreshCredit(ctx context.Context, id int64, credit int64, expiration, now time.Time) (bool, error) {
	result, err := r.GetDB().NewUpdate().
		Model((*models.Account)(nil)).
		Set("weekly_credit = ?", credit).
		Set("weekly_expiration = ?", expiration).
		Set("updated_at = ?", now).
		Where("id = ? AND weekly_expiration < ?", id, now).
		Exec(ctx)
	if err != nil {
		return false, r.HandleErrorWithID("refresh_credit", "account", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, r.HandleErrorWithID("refresh_credit", "account", id, err)
	}
	return rows > 0, nil
}

func (r *accountRepository) AddWeeklyCredit(ctx context.Context, id int64, delta int64) error {
	_, err := r.GetDB().NewUpdate().
		Model((*models.Account)(nil)).
		Set("weekly_credit = weekly_credit + ?", delta).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return r.HandleErrorWithID("add_weekly_credit", "account", id, err)
}
