package balance

import "math"

// BaseSeatBid is the default per-attendee contribution in RKS.
const BaseSeatBid = 3000

// RoleShares are the fractions of an experience's total allocated to each
// role. Shares are domain-configurable; the defaults are the MVP split.
type RoleShares struct {
	Host       float64 `toml:"host"`
	Attendees  float64 `toml:"attendees"`
	Curator    float64 `toml:"curator"`
	Venue      float64 `toml:"venue"`
	Production float64 `toml:"production"`
	AI         float64 `toml:"ai"`
}

// DefaultRoleShares returns the MVP allocation split: 20% host, 50%
// attendees, 5% curator, 10% venue, 10% production, 5% ai.
func DefaultRoleShares() RoleShares {
	return RoleShares{
		Host:       0.20,
		Attendees:  0.50,
		Curator:    0.05,
		Venue:      0.10,
		Production: 0.10,
		AI:         0.05,
	}
}

// NewAllocation builds the default allocation for an experience with the
// given target capacity. Total covers both the attendee and supplier sides
// (base bid * capacity * 2), half of which is reserved for mining.
func NewAllocation(capacity int64, shares RoleShares) Allocation {
	total := float64(BaseSeatBid * capacity * 2)
	return Allocation{
		Total: total,
		Breakdown: Breakdown{
			Host:       total * shares.Host,
			Attendees:  total * shares.Attendees,
			Curator:    total * shares.Curator,
			Venue:      total * shares.Venue,
			Production: total * shares.Production,
			AI:         total * shares.AI,
		},
		Mining: MiningPool{
			Available: total * 0.5,
		},
		Locked: make(map[string]bool),
	}
}

// MiningAmount computes the reward minted for an experience: 80% of the
// base pool (target capacity * 100), floored to whole units.
func MiningAmount(capacityTarget int64) int64 {
	if capacityTarget <= 0 {
		return 0
	}
	return int64(math.Floor(float64(capacityTarget*100) * 0.8))
}
