package repositories

import (
	"context"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/uptrace/bun"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	CreateWithTx(ctx context.Context, dbTx bun.Tx, tx *models.Transaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	// History returns the account's entries newest first, as either
	// counterparty.
	History(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error)
}

type transactionRepository struct {
	*BaseRepository
}

func NewTransactionRepository(db *bun.DB) TransactionRepository {
	return &transactionRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	tx.CreatedAt = time.Now()
	_, err := r.GetDB().NewInsert().Model(tx).Exec(ctx)
	return r.HandleError("create", "transaction", err)
}

func (r *transactionRepository) CreateWithTx(ctx context.Context, dbTx bun.Tx, tx *models.Transaction) error {
	tx.CreatedAt = time.Now()
	_, err := dbTx.NewInsert().Model(tx).Exec(ctx)
	return r.HandleError("create_with_tx", "transaction", err)
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx := new(models.Transaction)
	err := r.GetDB().NewSelect().
		Model(tx).
		Where("transaction_id = ?", transactionID).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("get", "transaction", transactionID, err)
	}
	return tx, nil
}

func (r *transactionRepository) History(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := r.GetDB().NewSelect().
		Model(&txs).
		Where("from_account_id = ? OR to_account_id = ?", accountID, accountID).
		Order("timestamp DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("history", "transaction", accountID, err)
	}
	return txs, nil
}
