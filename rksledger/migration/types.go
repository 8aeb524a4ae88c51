package migration

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Legacy document shapes from the MVP prototype's Mongo store. Field names
// follow the prototype's camelCase convention; amounts were stored as
// float64 and are converted to integer minor units on import.

type LegacyAccount struct {
	ID               primitive.ObjectID `bson:"_id"`
	UserID           string             `bson:"userId"`
	Kind             string             `bson:"kind"`
	Balance          float64            `bson:"balance"`
	LockedAmount     float64            `bson:"lockedAmount"`
	Status           string             `bson:"status"`
	WeeklyCredit     float64            `bson:"weeklyCredit,omitempty"`
	WeeklyExpiration time.Time          `bson:"weeklyExpiration,omitempty"`
	CreatedAt        time.Time          `bson:"createdAt"`
}

type LegacyTransaction struct {
	ID            string                 `bson:"id"`
	FromAccountID string                 `bson:"fromAccountId"`
	ToAccountID   string                 `bson:"toAccountId"`
	Amount        float64                `bson:"amount"`
	Type          string                 `bson:"type"`
	Status        string                 `bson:"status"`
	Timestamp     time.Time              `bson:"timestamp"`
	Metadata      map[string]interface{} `bson:"metadata,omitempty"`
}

type LegacyAllocation struct {
	AccountID    string    `bson:"accountId"`
	ExperienceID string    `bson:"experienceId"`
	Amount       float64   `bson:"amount"`
	Type         string    `bson:"type"`
	Status       string    `bson:"status"`
	ExpiryDate   time.Time `bson:"expiryDate"`
}

// TableStats tracks per-table import progress.
type TableStats struct {
	Read     int
	Imported int
	Skipped  int
	Errors   int
}

// MigrationStats aggregates the whole run.
type MigrationStats struct {
	Tables    map[string]*TableStats
	StartTime time.Time
}
