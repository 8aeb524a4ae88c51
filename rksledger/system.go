package rksledger

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/rockrlite/rks-ledger/rksledger/database"
	"github.com/rockrlite/rks-ledger/rksledger/database/models"
	"github.com/rockrlite/rks-ledger/rksledger/database/repositories"
	"github.com/rockrlite/rks-ledger/rksledger/economy/mining"
	"github.com/rockrlite/rks-ledger/rksledger/economy/uima"
	"github.com/rockrlite/rks-ledger/rksledger/ledger"
)

func New(cfg Config, version string, commit string) *System {
	return &System{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// System wires the ledger store and the economy managers over one database
// handle. Callers embed it wherever the ledger is consumed.
type System struct {
	Cfg     Config
	Version string
	Commit  string

	DB                    *database.DB
	AccountRepository     repositories.AccountRepository
	TransactionRepository repositories.TransactionRepository
	AllocationRepository  repositories.AllocationRepository
	MiningRepository      repositories.MiningRepository

	Store         *ledger.Store
	UIMAManager   *uima.Manager
	MiningTracker *mining.Tracker
}

// Setup builds the repositories and managers on top of the connected
// database and starts the UIMA expiry sweep.
func (s *System) Setup(db *database.DB) {
	s.DB = db
	s.AccountRepository = repositories.NewAccountRepository(db.BunDB())
	s.TransactionRepository = repositories.NewTransactionRepository(db.BunDB())
	s.AllocationRepository = repositories.NewAllocationRepository(db.BunDB())
	s.MiningRepository = repositories.NewMiningRepository(db.BunDB())

	s.Store = ledger.NewStore(db.BunDB())
	s.UIMAManager = uima.NewManager(s.AccountRepository, s.AllocationRepository, uima.Config{
		WeeklyCredit:    s.Cfg.RKS.WeeklyUIMACredit,
		TargetSeatPrice: s.Cfg.RKS.TargetSeatPrice,
		MinimumBid:      s.Cfg.RKS.MinimumBid,
		Eligibility:     s.Cfg.RKS.Eligibility,
	})
	s.MiningTracker = mining.NewTracker(s.MiningRepository, s.Store)

	s.UIMAManager.StartExpirySweep()

	slog.Info("Ledger system initialized",
		slog.String("type", "sys"),
		slog.String("version", s.Version),
		slog.Int64("weekly_uima_credit", s.Cfg.RKS.WeeklyUIMACredit),
		slog.Int64("target_seat_price", s.Cfg.RKS.TargetSeatPrice))
}

// Statement returns the most recent transactions touching any of the
// owner's accounts, newest first. Owners without a given account type are
// simply skipped, so a main-only owner still gets a statement.
func (s *System) Statement(ctx context.Context, ownerID string, limit int) ([]*models.Transaction, error) {
	var merged []*models.Transaction
	for _, accountType := range []models.AccountType{models.AccountTypeMain, models.AccountTypeUIMA} {
		account, err := s.AccountRepository.GetByOwner(ctx, ownerID, accountType)
		if err != nil {
			if repositories.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		txs, err := s.TransactionRepository.History(ctx, strconv.FormatInt(account.ID, 10), limit)
		if err != nil {
			return nil, err
		}
		merged = append(merged, txs...)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Shutdown stops background sweeps and closes the database.
func (s *System) Shutdown() {
	if s.UIMAManager != nil {
		s.UIMAManager.Shutdown()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
