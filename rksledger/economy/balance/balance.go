// Package balance implements the X=Y funding invariant for experience
// allocations. The X side is attendee revenue, the Y side is the sum of
// supplier costs (host, curator, venue, production, ai); both sides must
// stay equal. Individual components can be locked against automatic
// adjustment, and every automatic change is recorded for audit.
package balance

import (
	"fmt"
	"math"
)

// Epsilon is the tolerance for X=Y comparison, in currency units.
const Epsilon = 0.001

// Component names of an allocation breakdown.
const (
	VarAttendees  = "attendees"
	VarHost       = "host"
	VarCurator    = "curator"
	VarVenue      = "venue"
	VarProduction = "production"
	VarAI         = "ai"
)

// YSideVariables lists the supplier-cost components, in redistribution order.
var YSideVariables = []string{VarHost, VarCurator, VarVenue, VarProduction, VarAI}

// AllVariables lists every breakdown component, X side first.
var AllVariables = []string{VarAttendees, VarHost, VarCurator, VarVenue, VarProduction, VarAI}

// Breakdown is one experience's funding split across roles, in currency
// units.
type Breakdown struct {
	Host       float64 `json:"host"`
	Attendees  float64 `json:"attendees"`
	Curator    float64 `json:"curator"`
	Venue      float64 `json:"venue"`
	Production float64 `json:"production"`
	AI         float64 `json:"ai"`
}

// Get returns the named component's value, or 0 for an unknown name.
func (b Breakdown) Get(variable string) float64 {
	switch variable {
	case VarAttendees:
		return b.Attendees
	case VarHost:
		return b.Host
	case VarCurator:
		return b.Curator
	case VarVenue:
		return b.Venue
	case VarProduction:
		return b.Production
	case VarAI:
		return b.AI
	}
	return 0
}

// Set assigns the named component. Unknown names are ignored.
func (b *Breakdown) Set(variable string, value float64) {
	switch variable {
	case VarAttendees:
		b.Attendees = value
	case VarHost:
		b.Host = value
	case VarCurator:
		b.Curator = value
	case VarVenue:
		b.Venue = value
	case VarProduction:
		b.Production = value
	case VarAI:
		b.AI = value
	}
}

// Sum returns the total across all six components.
func (b Breakdown) Sum() float64 {
	return b.Attendees + b.Host + b.Curator + b.Venue + b.Production + b.AI
}

// MiningPool tracks the mining reward budget attached to an allocation.
type MiningPool struct {
	Available   float64 `json:"available"`
	Locked      float64 `json:"locked"`
	Distributed float64 `json:"distributed"`
}

// Allocation is one experience's full RKS funding state. Locked marks
// components pinned against automatic adjustment.
type Allocation struct {
	Total     float64         `json:"total"`
	Breakdown Breakdown       `json:"breakdown"`
	Mining    MiningPool      `json:"mining"`
	Locked    map[string]bool `json:"locked,omitempty"`
}

// IsLocked reports whether the named component is pinned.
func (a Allocation) IsLocked(variable string) bool {
	return a.Locked[variable]
}

func (a Allocation) clone() Allocation {
	out := a
	if a.Locked != nil {
		out.Locked = make(map[string]bool, len(a.Locked))
		for k, v := range a.Locked {
			out.Locked[k] = v
		}
	}
	return out
}

// Result is the outcome of an X=Y comparison.
type Result struct {
	XTotal              float64
	YTotal              float64
	IsBalanced          bool
	Difference          float64
	LockedVariables     []string
	AdjustableVariables []string
}

// Adjustment records one component mutation made while restoring balance.
type Adjustment struct {
	Variable string
	OldValue float64
	NewValue float64
	Reason   string
}

// AdjustResult carries the rebalanced allocation plus the audit trail. When
// the invariant could not be fully restored, Balanced is false and Warning
// names the obstruction; the allocation is left in its best-effort state.
type AdjustResult struct {
	Allocation  Allocation
	Adjustments []Adjustment
	Balanced    bool
	Warning     string
}

// ValidationError is a structured rejection of a locking request.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult reports whether a lock may be committed.
type ValidationResult struct {
	IsValid bool
	Errors  []ValidationError
}

// Calculate computes the X=Y balance of an allocation. X is the attendees
// component, Y is the sum of the five supplier components.
func Calculate(alloc Allocation) Result {
	xTotal := alloc.Breakdown.Attendees
	yTotal := alloc.Breakdown.Host +
		alloc.Breakdown.Curator +
		alloc.Breakdown.Venue +
		alloc.Breakdown.Production +
		alloc.Breakdown.AI

	var locked, adjustable []string
	for _, v := range AllVariables {
		if alloc.IsLocked(v) {
			locked = append(locked, v)
		} else {
			adjustable = append(adjustable, v)
		}
	}

	return Result{
		XTotal:              xTotal,
		YTotal:              yTotal,
		IsBalanced:          math.Abs(xTotal-yTotal) < Epsilon,
		Difference:          xTotal - yTotal,
		LockedVariables:     locked,
		AdjustableVariables: adjustable,
	}
}

// AdjustableVariables returns the components not currently locked.
func AdjustableVariables(alloc Allocation) []string {
	out := make([]string, 0, len(AllVariables))
	for _, v := range AllVariables {
		if !alloc.IsLocked(v) {
			out = append(out, v)
		}
	}
	return out
}

// ValidateLockingRules checks whether variableToLock may be pinned without
// making the X=Y invariant unenforceable. Locking is rejected when fewer
// than two components would remain unlocked, or when the attendees side and
// all five supplier components would be pinned together.
func ValidateLockingRules(alloc Allocation, variableToLock string) ValidationResult {
	var errs []ValidationError

	wouldBeLocked := make(map[string]bool, len(alloc.Locked)+1)
	for v, locked := range alloc.Locked {
		if locked {
			wouldBeLocked[v] = true
		}
	}
	wouldBeLocked[variableToLock] = true

	if len(AllVariables)-len(wouldBeLocked) < 2 {
		errs = append(errs, ValidationError{
			Field:   variableToLock,
			Message: "cannot lock variable: at least two must remain adjustable to maintain X=Y balance",
		})
	}

	ySideLocked := 0
	for _, v := range YSideVariables {
		if wouldBeLocked[v] {
			ySideLocked++
		}
	}
	if wouldBeLocked[VarAttendees] && ySideLocked == len(YSideVariables) {
		errs = append(errs, ValidationError{
			Field:   variableToLock,
			Message: "cannot lock all variables on both sides (X and Y)",
		})
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// Adjust applies newValue to changedVariable and restores the X=Y invariant
// over the remaining unlocked components. An X-side edit redistributes the
// unlocked Y components proportionally toward the new target; a Y-side edit
// is absorbed by attendees unless attendees is locked. The input allocation
// is not mutated.
func Adjust(alloc Allocation, changedVariable string, newValue float64) AdjustResult {
	updated := alloc.clone()

	oldValue := updated.Breakdown.Get(changedVariable)
	updated.Breakdown.Set(changedVariable, newValue)

	adjustments := []Adjustment{{
		Variable: changedVariable,
		OldValue: oldValue,
		NewValue: newValue,
		Reason:   "user edited",
	}}

	res := Calculate(updated)
	if res.IsBalanced {
		updated.Total = updated.Breakdown.Sum()
		return AdjustResult{Allocation: updated, Adjustments: adjustments, Balanced: true}
	}

	var warning string
	if changedVariable == VarAttendees {
		adjustments, warning = adjustYSide(&updated, res.XTotal, changedVariable, adjustments)
	} else {
		adjustments, warning = adjustXSide(&updated, changedVariable, adjustments)
	}

	final := Calculate(updated)
	updated.Total = updated.Breakdown.Sum()

	return AdjustResult{
		Allocation:  updated,
		Adjustments: adjustments,
		Balanced:    final.IsBalanced,
		Warning:     warning,
	}
}

// adjustYSide scales the unlocked Y components so their sum meets
// targetX - lockedYTotal. The component the user just edited is held at its
// new value. Redistributed values round half-to-even to whole currency
// units.
func adjustYSide(alloc *Allocation, targetX float64, changedVariable string, adjustments []Adjustment) ([]Adjustment, string) {
	var unlocked []string
	var lockedTotal, unlockedTotal float64
	for _, v := range YSideVariables {
		if alloc.IsLocked(v) || v == changedVariable {
			lockedTotal += alloc.Breakdown.Get(v)
		} else {
			unlocked = append(unlocked, v)
			unlockedTotal += alloc.Breakdown.Get(v)
		}
	}

	if len(unlocked) == 0 {
		return adjustments, "all supplier components are locked; unlock one to restore balance"
	}

	targetUnlocked := targetX - lockedTotal
	if targetUnlocked <= 0 || unlockedTotal <= 0 {
		return adjustments, "no adjustable supplier capacity; resolve the balance manually"
	}

	ratio := targetUnlocked / unlockedTotal
	for _, v := range unlocked {
		oldValue := alloc.Breakdown.Get(v)
		newValue := math.RoundToEven(oldValue * ratio)
		alloc.Breakdown.Set(v, newValue)
		adjustments = append(adjustments, Adjustment{
			Variable: v,
			OldValue: oldValue,
			NewValue: newValue,
			Reason:   "proportional Y-side adjustment to maintain X=Y balance",
		})
	}
	return adjustments, ""
}

// adjustXSide sets attendees to the current Y total; X absorbs Y-side edits
// whenever attendees is unlocked. With attendees pinned, the remaining
// unlocked Y components are rescaled toward it instead, keeping the edited
// component at its new value.
func adjustXSide(alloc *Allocation, changedVariable string, adjustments []Adjustment) ([]Adjustment, string) {
	if alloc.IsLocked(VarAttendees) {
		return adjustYSide(alloc, alloc.Breakdown.Attendees, changedVariable, adjustments)
	}

	yTotal := alloc.Breakdown.Host +
		alloc.Breakdown.Curator +
		alloc.Breakdown.Venue +
		alloc.Breakdown.Production +
		alloc.Breakdown.AI

	oldValue := alloc.Breakdown.Attendees
	alloc.Breakdown.Attendees = yTotal
	adjustments = append(adjustments, Adjustment{
		Variable: VarAttendees,
		OldValue: oldValue,
		NewValue: yTotal,
		Reason:   "X-side adjustment to maintain X=Y balance",
	})
	return adjustments, ""
}

// ResetVariableToDefault restores one component to its value in defaults and
// rebalances with that component as the changed variable.
func ResetVariableToDefault(alloc Allocation, variable string, defaults Allocation) AdjustResult {
	return Adjust(alloc, variable, defaults.Breakdown.Get(variable))
}
