// Package domain contains core business types and rules.
//
// This file defines the entitlement snapshot and the pure transition rules
// that reset, regrant, debit, and grant credits. None of these functions
// perform I/O; callers persist the returned snapshot.
package domain

import (
	"fmt"
	"math"
)

// MaxCredits is the largest balance a snapshot may hold. It matches the
// INTEGER column the postgres store persists balances in.
const MaxCredits = math.MaxInt32

// Snapshot is the entitlement state of one identity.
type Snapshot struct {
	Identity         Identity `json:"identity"`
	PlanID           PlanID   `json:"plan_id"`
	CreditsRemaining int      `json:"credits_remaining"`
	LastResetDate    Date     `json:"last_reset_date"`
}

// IsSignedIn returns true if the snapshot belongs to an identity.
func (s Snapshot) IsSignedIn() bool {
	return !s.Identity.IsZero()
}

// Rules applies plan policy to snapshots.
type Rules struct {
	catalog  Catalog
	operator Identity
}

// NewRules creates entitlement rules over a catalog. operator is the
// unrestricted identity; pass the zero Identity to disable the bypass.
func NewRules(catalog Catalog, operator Identity) Rules {
	return Rules{catalog: catalog, operator: operator}
}

// Catalog returns the plan catalog the rules resolve against.
func (r Rules) Catalog() Catalog {
	return r.catalog
}

// Plan resolves a plan id through the catalog.
func (r Rules) Plan(id PlanID) (Plan, error) {
	return r.catalog.Plan(id)
}

// IsUnrestricted reports whether id is the unrestricted operator.
func (r Rules) IsUnrestricted(id Identity) bool {
	return !r.operator.IsZero() && id == r.operator
}

// NewSnapshot returns the starting entitlement for an identity seen for the
// first time: the free plan with a full daily grant.
func (r Rules) NewSnapshot(id Identity, today Date) (Snapshot, error) {
	plan, err := r.catalog.Plan(PlanFree)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Identity:         id,
		PlanID:           plan.ID,
		CreditsRemaining: dailyGrant(plan),
		LastResetDate:    today,
	}, nil
}

// ResetIfStale regrants the daily quota when the last reset happened on an
// earlier day. The reset date never moves backwards, so a clock that jumps
// into the past leaves the snapshot unchanged.
func (r Rules) ResetIfStale(s Snapshot, today Date) (Snapshot, error) {
	if !s.LastResetDate.Before(today) {
		return s, nil
	}
	plan, err := r.catalog.Plan(s.PlanID)
	if err != nil {
		return s, err
	}
	s.CreditsRemaining = dailyGrant(plan)
	s.LastResetDate = today
	return s, nil
}

// ChangePlan switches the snapshot to another plan and regrants that plan's
// full quota. The reset date is left untouched.
func (r Rules) ChangePlan(s Snapshot, id PlanID) (Snapshot, error) {
	plan, err := r.catalog.Plan(id)
	if err != nil {
		return s, UnknownPlan("entitlement.change_plan", id)
	}
	s.PlanID = plan.ID
	s.CreditsRemaining = dailyGrant(plan)
	return s, nil
}

// HasCredit reports whether a submission may be admitted on quota grounds.
func (r Rules) HasCredit(s Snapshot) (bool, error) {
	if r.IsUnrestricted(s.Identity) {
		return true, nil
	}
	plan, err := r.catalog.Plan(s.PlanID)
	if err != nil {
		return false, err
	}
	return plan.IsUnlimited() || s.CreditsRemaining > 0, nil
}

// Debit removes amount credits. The operator and unlimited plans are exempt
// and get the snapshot back unchanged.
func (r Rules) Debit(s Snapshot, amount int) (Snapshot, error) {
	const op = "entitlement.debit"

	if amount <= 0 {
		return s, Invalid(op, "debit amount must be positive")
	}
	if r.IsUnrestricted(s.Identity) {
		return s, nil
	}
	plan, err := r.catalog.Plan(s.PlanID)
	if err != nil {
		return s, err
	}
	if plan.IsUnlimited() {
		return s, nil
	}
	if s.CreditsRemaining < amount {
		return s, InsufficientCredits(op, s.CreditsRemaining, amount)
	}
	s.CreditsRemaining -= amount
	return s, nil
}

// Grant adds amount credits. The balance may exceed the plan's daily quota
// but never MaxCredits.
func (r Rules) Grant(s Snapshot, amount int) (Snapshot, error) {
	const op = "entitlement.grant"

	if amount <= 0 {
		return s, Invalid(op, "grant amount must be positive")
	}
	if amount > MaxCredits-s.CreditsRemaining {
		return s, Invalid(op, fmt.Sprintf("grant would raise the balance above %d", MaxCredits))
	}
	s.CreditsRemaining += amount
	return s, nil
}

// dailyGrant is the balance a plan starts each day with. Unlimited plans do
// not track a balance.
func dailyGrant(p Plan) int {
	if p.IsUnlimited() {
		return 0
	}
	return p.DailyQuota
}
