package config

import "time"

// Application-wide constants organized by domain

// Database and performance constants
const (
	DefaultQueryTimeout = 30 * time.Second
	BatchQueryTimeout   = 30 * time.Second
	SweepTimeout        = 30 * time.Second
	NetworkDialTimeout  = 5 * time.Second

	// Cache settings
	AccountCacheSize       = 10000
	AccountCacheExpiration = 5 * time.Minute

	// Batch processing
	SettlementBatchSize  = 50
	MaxConcurrentSettles = 5
	MaxRetries           = 3
)

// UIMA credit constants
const (
	// Weekly allowance (MVP default). Unused credit does not roll over;
	// the reset discards any remainder.
	DefaultWeeklyCredit = 18000

	// Credits expire seven days after issuance.
	CreditPeriod = 7 * 24 * time.Hour

	// Bids below this amount are rejected.
	MinimumBid = 3000

	// Default bid expiry when the caller supplies none.
	DefaultBidExpiry = 24 * time.Hour

	// How often the expiry sweep runs.
	AllocationSweepInterval = 5 * time.Minute
)

// RKS economy constants
const (
	// Target full seat price: attendee contribution plus matched supplier
	// cost (3000 X + 3000 Y).
	DefaultTargetSeatPrice = 6000

	// Mining settlement sweep cadence.
	MiningSweepInterval = 15 * time.Minute

	// Mining bounds from the attendance model.
	MinimumAttendees = 2
	MaximumAttendees = 1500
)
