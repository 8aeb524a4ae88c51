package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger"
	"github.com/rockrlite/rks-ledger/rksledger/config"
	"github.com/rockrlite/rks-ledger/rksledger/database"
	"github.com/rockrlite/rks-ledger/rksledger/database/repositories"
	"github.com/rockrlite/rks-ledger/rksledger/logger"
	"github.com/rockrlite/rks-ledger/rksledger/migration"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting RKS Ledger",
		slog.String("version", version),
		slog.String("commit", commit))

	path := flag.String("config", "config.toml", "path to config")
	migrateLegacy := flag.Bool("migrate-legacy", false, "import accounts and transactions from the legacy Mongo store, then exit")
	legacyURI := flag.String("legacy-uri", "mongodb://localhost:27017", "legacy Mongo connection string")
	legacyDB := flag.String("legacy-db", "rockrlite", "legacy Mongo database name")
	flag.Parse()

	cfg, err := rksledger.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dbConfig := database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	}

	db, err := database.New(ctx, dbConfig)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()))
		db.Close()
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	if *migrateLegacy {
		migrator := migration.NewMigrator(db.BunDB(), db.Pool())
		migrator.UseCopy(true)
		if err := migrator.ConnectMongo(ctx, *legacyURI, *legacyDB); err != nil {
			slog.Error("Failed to connect to legacy store", slog.Any("error", err))
			db.Close()
			os.Exit(-1)
		}
		if err := migrator.MigrateAll(ctx); err != nil {
			slog.Error("Legacy migration failed", slog.Any("error", err))
			db.Close()
			os.Exit(-1)
		}
		db.Close()
		return
	}

	system := rksledger.New(*cfg, version, commit)
	system.Setup(db)
	defer system.Shutdown()

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go runMiningBacklogSweep(sweepCtx, system.MiningRepository)

	slog.Info("Ledger is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down ledger...")
}

// runMiningBacklogSweep periodically reports the unsettled mining backlog.
// Settlement itself is driven by completion calls, never by the clock.
func runMiningBacklogSweep(ctx context.Context, repo repositories.MiningRepository) {
	ticker := time.NewTicker(config.MiningSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, config.SweepTimeout)
			tasks, err := repo.PendingTasks(sweepCtx, 10*config.SettlementBatchSize)
			cancel()
			if err != nil {
				slog.Error("Failed to list pending mining tasks", slog.Any("error", err))
				continue
			}
			if len(tasks) > 0 {
				var total int64
				for _, task := range tasks {
					total += task.Amount
				}
				slog.Info("Mining backlog",
					slog.String("type", "sys"),
					slog.Int("pending_tasks", len(tasks)),
					slog.Int64("pending_amount", total))
			}
		case <-ctx.Done():
			return
		}
	}
}
