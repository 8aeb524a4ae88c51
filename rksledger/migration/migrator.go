// Package migration imports account and transaction state from the MVP
// prototype's Mongo store into the Postgres ledger schema.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Migrator struct {
	pgDB      *bun.DB
	pool      *pgxpool.Pool
	mongoDB   *mongo.Database
	batchSize int
	useCopy   bool
	stats     MigrationStats
	collNames map[string]string
}

func NewMigrator(pgDB *bun.DB, pool *pgxpool.Pool) *Migrator {
	return &Migrator{
		pgDB:      pgDB,
		pool:      pool,
		batchSize: 1000,
		stats: MigrationStats{
			Tables:    make(map[string]*TableStats),
			StartTime: time.Now(),
		},
		collNames: map[string]string{
			"accounts":     "accounts",
			"transactions": "transactions",
			"allocations":  "uimaallocations",
		},
	}
}

// SetBatchSize overrides the default batch size for inserts.
func (m *Migrator) SetBatchSize(size int) {
	if size > 0 {
		m.batchSize = size
	}
}

// UseCopy switches transaction import to pgx CopyFrom for bulk speed.
func (m *Migrator) UseCopy(enabled bool) {
	m.useCopy = enabled && m.pool != nil
}

// ConnectMongo attaches the legacy store.
func (m *Migrator) ConnectMongo(ctx context.Context, uri, database string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("failed to connect to legacy store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("legacy store unreachable: %w", err)
	}
	m.mongoDB = client.Database(database)
	return nil
}

// MigrateAll imports accounts, allocations and transactions, in dependency
// order.
func (m *Migrator) MigrateAll(ctx context.Context) error {
	if m.mongoDB == nil {
		return fmt.Errorf("legacy store not connected")
	}

	if err := m.MigrateAccounts(ctx); err != nil {
		return fmt.Errorf("account migration failed: %w", err)
	}
	if err := m.MigrateAllocations(ctx); err != nil {
		return fmt.Errorf("allocation migration failed: %w", err)
	}
	if err := m.MigrateTransactions(ctx); err != nil {
		return fmt.Errorf("transaction migration failed: %w", err)
	}

	slog.Info("Legacy migration complete",
		slog.String("type", "db"),
		slog.Duration("took", time.Since(m.stats.StartTime)))
	m.logStats()
	return nil
}

// MigrateAccounts streams legacy account documents and inserts them in
// batches.
func (m *Migrator) MigrateAccounts(ctx context.Context) error {
	stats := &TableStats{}
	m.stats.Tables["accounts"] = stats

	cursor, err := m.mongoDB.Collection(m.collNames["accounts"]).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to read legacy accounts: %w", err)
	}
	defer cursor.Close(ctx)

	batch := make([]*models.Account, 0, m.batchSize)
	for cursor.Next(ctx) {
		var legacy LegacyAccount
		if err := cursor.Decode(&legacy); err != nil {
			stats.Errors++
			slog.Warn("Skipping undecodable legacy account",
				slog.String("type", "db"),
				slog.String("error", err.Error()))
			continue
		}
		stats.Read++

		account, ok := convertAccount(legacy)
		if !ok {
			stats.Skipped++
			continue
		}

		batch = append(batch, account)
		if len(batch) >= m.batchSize {
			if err := m.flushAccounts(ctx, batch, stats); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := m.flushAccounts(ctx, batch, stats); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (m *Migrator) flushAccounts(ctx context.Context, batch []*models.Account, stats *TableStats) error {
	_, err := m.pgDB.NewInsert().
		Model(&batch).
		On("CONFLICT (owner_id, type) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert account batch: %w", err)
	}
	stats.Imported += len(batch)
	return nil
}

// MigrateAllocations imports legacy UIMA allocations, resolving account ids
// through the freshly imported accounts.
func (m *Migrator) MigrateAllocations(ctx context.Context) error {
	stats := &TableStats{}
	m.stats.Tables["uima_allocations"] = stats

	accountIDs, err := m.accountIDsByOwner(ctx)
	if err != nil {
		return err
	}

	cursor, err := m.mongoDB.Collection(m.collNames["allocations"]).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to read legacy allocations: %w", err)
	}
	defer cursor.Close(ctx)

	batch := make([]*models.UIMAllocation, 0, m.batchSize)
	for cursor.Next(ctx) {
		var legacy LegacyAllocation
		if err := cursor.Decode(&legacy); err != nil {
			stats.Errors++
			continue
		}
		stats.Read++

		accountID, ok := accountIDs[legacy.AccountID]
		if !ok {
			stats.Skipped++
			continue
		}

		alloc, ok := convertAllocation(legacy, accountID)
		if !ok {
			stats.Skipped++
			continue
		}

		batch = append(batch, alloc)
		if len(batch) >= m.batchSize {
			if _, err := m.pgDB.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert allocation batch: %w", err)
			}
			stats.Imported += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if _, err := m.pgDB.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert allocation batch: %w", err)
		}
		stats.Imported += len(batch)
	}
	return cursor.Err()
}

// MigrateTransactions imports the ledger log. With UseCopy enabled the rows
// go through pgx CopyFrom, which is substantially faster for large logs.
func (m *Migrator) MigrateTransactions(ctx context.Context) error {
	stats := &TableStats{}
	m.stats.Tables["transactions"] = stats

	cursor, err := m.mongoDB.Collection(m.collNames["transactions"]).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to read legacy transactions: %w", err)
	}
	defer cursor.Close(ctx)

	batch := make([]*models.Transaction, 0, m.batchSize)
	for cursor.Next(ctx) {
		var legacy LegacyTransaction
		if err := cursor.Decode(&legacy); err != nil {
			stats.Errors++
			continue
		}
		stats.Read++

		tx, ok := convertTransaction(legacy)
		if !ok {
			stats.Skipped++
			continue
		}

		batch = append(batch, tx)
		if len(batch) >= m.batchSize {
			if err := m.flushTransactions(ctx, batch, stats); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := m.flushTransactions(ctx, batch, stats); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (m *Migrator) flushTransactions(ctx context.Context, batch []*models.Transaction, stats *TableStats) error {
	if m.useCopy {
		rows := make([][]interface{}, len(batch))
		for i, tx := range batch {
			rows[i] = []interface{}{
				tx.TransactionID, tx.FromAccountID, tx.ToAccountID,
				tx.Amount, string(tx.Type), string(tx.Status), tx.Timestamp, tx.CreatedAt,
			}
		}
		_, err := m.pool.CopyFrom(ctx,
			pgx.Identifier{"transactions"},
			[]string{"transaction_id", "from_account_id", "to_account_id", "amount", "type", "status", "timestamp", "created_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy transaction batch: %w", err)
		}
	} else {
		_, err := m.pgDB.NewInsert().
			Model(&batch).
			On("CONFLICT (transaction_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert transaction batch: %w", err)
		}
	}
	stats.Imported += len(batch)
	return nil
}

func (m *Migrator) accountIDsByOwner(ctx context.Context) (map[string]int64, error) {
	var accounts []*models.Account
	err := m.pgDB.NewSelect().
		Model(&accounts).
		Column("id", "owner_id", "type").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to index imported accounts: %w", err)
	}

	ids := make(map[string]int64, len(accounts))
	for _, account := range accounts {
		if account.Type == models.AccountTypeUIMA {
			ids[account.OwnerID] = account.ID
		}
	}
	return ids, nil
}

func (m *Migrator) logStats() {
	for table, stats := range m.stats.Tables {
		slog.Info("Migration table summary",
			slog.String("type", "db"),
			slog.String("table", table),
			slog.Int("read", stats.Read),
			slog.Int("imported", stats.Imported),
			slog.Int("skipped", stats.Skipped),
			slog.Int("errors", stats.Errors))
	}
}
