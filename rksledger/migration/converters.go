package migration

import (
	"fmt"
	"math"
	"time"

	"github.com/rockrlite/rks-ledger/rksledger/database/models"
)

// toMinorUnits converts a legacy float amount to integer minor units,
// rejecting NaN, infinities and negatives.
func toMinorUnits(amount float64) (int64, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, false
	}
	return int64(math.Round(amount)), true
}

func convertAccount(legacy LegacyAccount) (*models.Account, bool) {
	if legacy.UserID == "" {
		return nil, false
	}

	var kind models.AccountType
	switch legacy.Kind {
	case "main", "rks":
		kind = models.AccountTypeMain
	case "uima":
		kind = models.AccountTypeUIMA
	default:
		return nil, false
	}

	balance, ok := toMinorUnits(legacy.Balance)
	if !ok {
		return nil, false
	}
	locked, ok := toMinorUnits(legacy.LockedAmount)
	if !ok || locked > balance {
		return nil, false
	}

	status := models.AccountStatusActive
	switch legacy.Status {
	case "locked":
		status = models.AccountStatusLocked
	case "suspended", "closed":
		status = models.AccountStatusSuspended
	}

	account := &models.Account{
		OwnerID:      legacy.UserID,
		Type:         kind,
		Balance:      balance,
		LockedAmount: locked,
		Status:       status,
		CreatedAt:    legacy.CreatedAt,
		UpdatedAt:    time.Now(),
	}
	if kind == models.AccountTypeUIMA {
		credit, ok := toMinorUnits(legacy.WeeklyCredit)
		if !ok {
			return nil, false
		}
		account.WeeklyCredit = credit
		account.WeeklyExpiration = legacy.WeeklyExpiration
	}
	return account, true
}

func convertTransaction(legacy LegacyTransaction) (*models.Transaction, bool) {
	if legacy.ID == "" || legacy.FromAccountID == "" || legacy.ToAccountID == "" {
		return nil, false
	}
	amount, ok := toMinorUnits(legacy.Amount)
	if !ok || amount == 0 {
		return nil, false
	}

	var txType models.TransactionType
	switch legacy.Type {
	case "transfer":
		txType = models.TransactionTypeTransfer
	case "bid":
		txType = models.TransactionTypeBid
	case "mining", "reward":
		txType = models.TransactionTypeMining
	case "refund":
		txType = models.TransactionTypeRefund
	default:
		txType = models.TransactionTypeSystem
	}

	var status models.TransactionStatus
	switch legacy.Status {
	case "completed", "success":
		status = models.TransactionStatusCompleted
	case "failed":
		status = models.TransactionStatusFailed
	case "cancelled":
		status = models.TransactionStatusCancelled
	default:
		// The prototype left some entries without a terminal status; the
		// ledger only replays completed history, so anything else is dropped.
		return nil, false
	}

	metadata := make(map[string]string, len(legacy.Metadata))
	for key, value := range legacy.Metadata {
		metadata[key] = fmt.Sprint(value)
	}

	timestamp := legacy.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return &models.Transaction{
		TransactionID: legacy.ID,
		FromAccountID: legacy.FromAccountID,
		ToAccountID:   legacy.ToAccountID,
		Amount:        amount,
		Type:          txType,
		Status:        status,
		Timestamp:     timestamp,
		Metadata:      metadata,
		CreatedAt:     timestamp,
	}, true
}

func convertAllocation(legacy LegacyAllocation, accountID int64) (*models.UIMAllocation, bool) {
	if legacy.ExperienceID == "" {
		return nil, false
	}
	amount, ok := toMinorUnits(legacy.Amount)
	if !ok || amount == 0 {
		return nil, false
	}

	var allocType models.AllocationType
	switch legacy.Type {
	case "bid":
		allocType = models.AllocationTypeBid
	case "mining":
		allocType = models.AllocationTypeMining
	default:
		return nil, false
	}

	var status models.AllocationStatus
	switch legacy.Status {
	case "pending":
		status = models.AllocationStatusPending
	case "locked":
		status = models.AllocationStatusLocked
	case "mined":
		status = models.AllocationStatusMined
	case "expired":
		status = models.AllocationStatusExpired
	case "cancelled":
		status = models.AllocationStatusCancelled
	default:
		return nil, false
	}

	return &models.UIMAllocation{
		AccountID:    accountID,
		ExperienceID: legacy.ExperienceID,
		Amount:       amount,
		Type:         allocType,
		Status:       status,
		ExpiryDate:   legacy.ExpiryDate,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}, true
}
