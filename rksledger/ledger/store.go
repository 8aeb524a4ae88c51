// Package ledger owns account balance state and the append-only transaction
// log. Every mutation is atomic with respect to a single account: the
// balance change and its transaction entry commit together or not at all.
package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rockrlite/rks-ledger/rksledger/config"
	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/rockrlite/rks-ledger/rksledger/logger"
	"github.com/uptrace/bun"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientLocked  = errors.New("unlock amount exceeds locked amount")
	ErrAccountNotActive    = errors.New("account is not active")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

const (
	txIDLength   = 8
	maxIDRetries = 5
)

type cachedAccount struct {
	account   *models.Account
	timestamp time.Time
}

// Store is the ledger account store. Reads go through a bounded LRU
// snapshot cache; mutations run in serializable transactions with a row
// lock on the account and invalidate the cache on commit.
type Store struct {
	db    *bun.DB
	cache *lru.Cache
}

func NewStore(db *bun.DB) *Store {
	if db == nil {
		panic("ledger store requires a database")
	}
	cache, _ := lru.New(config.AccountCacheSize)
	return &Store{db: db, cache: cache}
}

// Account returns a snapshot of the account, served from cache when fresh.
func (s *Store) Account(ctx context.Context, accountID int64) (*models.Account, error) {
	if v, ok := s.cache.Get(accountID); ok {
		cached := v.(cachedAccount)
		if time.Since(cached.timestamp) < config.AccountCacheExpiration {
			return cached.account, nil
		}
	}

	account := new(models.Account)
	err := s.db.NewSelect().
		Model(account).
		Where("id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	s.cache.Add(accountID, cachedAccount{account: account, timestamp: time.Now()})
	return account, nil
}

// AccountByOwner resolves an owner's account of the given type.
func (s *Store) AccountByOwner(ctx context.Context, ownerID string, accountType models.AccountType) (*models.Account, error) {
	account := new(models.Account)
	err := s.db.NewSelect().
		Model(account).
		Where("owner_id = ? AND type = ?", ownerID, accountType).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account for owner %s: %w", ownerID, err)
	}
	return account, nil
}

// OpenAccounts creates the main and uima account pair for a new profile.
// The uima account starts with the full weekly allowance.
func (s *Store) OpenAccounts(ctx context.Context, ownerID string, weeklyCredit int64) (*models.Account, *models.Account, error) {
	now := time.Now()
	main := &models.Account{
		OwnerID:   ownerID,
		Type:      models.AccountTypeMain,
		Status:    models.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	uima := &models.Account{
		OwnerID:          ownerID,
		Type:             models.AccountTypeUIMA,
		Status:           models.AccountStatusActive,
		WeeklyCredit:     weeklyCredit,
		WeeklyExpiration: now.Add(config.CreditPeriod),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(main).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(uima).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open accounts for %s: %w", ownerID, err)
	}

	slog.Info("Opened account pair",
		slog.String("type", "ledger"),
		slog.String("owner_id", ownerID),
		slog.Int64("main_account", main.ID),
		slog.Int64("uima_account", uima.ID))

	return main, uima, nil
}

// Credit deposits amount into the account and appends the matching
// transaction entry.
func (s *Store) Credit(ctx context.Context, accountID int64, amount int64, txType models.TransactionType, metadata map[string]string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.Transaction
	err := s.mutate(ctx, accountID, func(tx bun.Tx, account *models.Account) error {
		_, err := tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("balance = balance + ?", amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return err
		}

		entry, err = s.appendEntry(ctx, tx, models.SystemAccountID, accountIDString(accountID), amount, txType, metadata)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Account credited",
		slog.String("type", "ledger"),
		slog.Int64("account_id", accountID),
		slog.Int64("amount", amount),
		slog.String("tx_type", string(txType)))

	return entry, nil
}

// Debit withdraws amount from the account's available (non-locked) balance.
// Fails with ErrInsufficientBalance when amount exceeds balance minus the
// locked portion; no state changes on failure.
func (s *Store) Debit(ctx context.Context, accountID int64, amount int64, txType models.TransactionType, metadata map[string]string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.Transaction
	err := s.mutate(ctx, accountID, func(tx bun.Tx, account *models.Account) error {
		if !account.CanDebit(amount) {
			return ErrInsufficientBalance
		}

		_, err := tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("balance = balance - ?", amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return err
		}

		entry, err = s.appendEntry(ctx, tx, accountIDString(accountID), models.SystemAccountID, amount, txType, metadata)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Account debited",
		slog.String("type", "ledger"),
		slog.Int64("account_id", accountID),
		slog.Int64("amount", amount),
		slog.String("tx_type", string(txType)))

	return entry, nil
}

// Transfer moves amount between two accounts in one transaction, appending
// a single transfer entry naming both counterparties.
func (s *Store) Transfer(ctx context.Context, fromID, toID int64, amount int64, metadata map[string]string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	start := time.Now()
	var entry *models.Transaction
	err := s.mutate(ctx, fromID, func(tx bun.Tx, from *models.Account) error {
		if !from.CanDebit(amount) {
			return ErrInsufficientBalance
		}

		to := new(models.Account)
		err := tx.NewSelect().
			Model(to).
			Where("id = ?", toID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		if to.Status != models.AccountStatusActive {
			return ErrAccountNotActive
		}

		_, err = tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("balance = balance - ?", amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", fromID).
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("balance = balance + ?", amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", toID).
			Exec(ctx)
		if err != nil {
			return err
		}

		entry, err = s.appendEntry(ctx, tx, accountIDString(fromID), accountIDString(toID), amount, models.TransactionTypeTransfer, metadata)
		return err
	})
	logger.LogOperation("transfer", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.cache.Remove(toID)
	return entry, nil
}

// Lock reserves amount of the account's balance against debits (staking).
func (s *Store) Lock(ctx context.Context, accountID int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	return s.mutate(ctx, accountID, func(tx bun.Tx, account *models.Account) error {
		if amount > account.Available() {
			return ErrInsufficientBalance
		}

		_, err := tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("locked_amount = locked_amount + ?", amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = s.appendEntry(ctx, tx, accountIDString(accountID), accountIDString(accountID), amount,
			models.TransactionTypeSystem, map[string]string{"action": "lock"})
		return err
	})
}

// Unlock releases amount of the account's locked balance.
func (s *Store) Unlock(ctx context.Context, accountID int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	return s.mutate(ctx, accountID, func(tx bun.Tx, account *models.Account) error {
		if amount > account.LockedAmount {
			return ErrInsufficientLocked
		}

		_, err := tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("locked_amount = locked_amount - ?", amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = s.appendEntry(ctx, tx, accountIDString(accountID), accountIDString(accountID), amount,
			models.TransactionTypeSystem, map[string]string{"action": "unlock"})
		return err
	})
}

// History returns the account's ledger entries, newest first.
func (s *Store) History(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error) {
	id := accountIDString(accountID)
	var txs []*models.Transaction
	err := s.db.NewSelect().
		Model(&txs).
		Where("from_account_id = ? OR to_account_id = ?", id, id).
		Order("timestamp DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	return txs, nil
}

// mutate runs fn inside a serializable transaction holding a row lock on
// the account, then drops the account's cache entry.
func (s *Store) mutate(ctx context.Context, accountID int64, fn func(tx bun.Tx, account *models.Account) error) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		account := new(models.Account)
		err := tx.NewSelect().
			Model(account).
			Where("id = ?", accountID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("failed to lock account: %w", err)
		}

		if account.Status != models.AccountStatusActive {
			return ErrAccountNotActive
		}

		return fn(tx, account)
	})

	s.cache.Remove(accountID)
	return err
}

// appendEntry writes the completed ledger entry for a mutation inside the
// same database transaction.
func (s *Store) appendEntry(ctx context.Context, tx bun.Tx, from, to string, amount int64, txType models.TransactionType, metadata map[string]string) (*models.Transaction, error) {
	id, err := generateTransactionID()
	if err != nil {
		return nil, err
	}

	entry := &models.Transaction{
		TransactionID: id,
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        amount,
		Type:          txType,
		Status:        models.TransactionStatusCompleted,
		Timestamp:     time.Now(),
		Metadata:      metadata,
		CreatedAt:     time.Now(),
	}
	if !entry.Valid() {
		return nil, fmt.Errorf("invalid ledger entry: amount=%d from=%q to=%q", amount, from, to)
	}

	if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}
	return entry, nil
}

func accountIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// generateTransactionID produces a random base32 identifier.
func generateTransactionID() (string, error) {
	for i := 0; i < maxIDRetries; i++ {
		bytes := make([]byte, 5)
		if _, err := rand.Read(bytes); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}

		encoded := base32.StdEncoding.EncodeToString(bytes)
		if len(encoded) >= txIDLength {
			return "TX" + strings.ToUpper(encoded[:txIDLength]), nil
		}
	}
	return "", fmt.Errorf("failed to generate transaction ID after %d attempts", maxIDRetries)
}
