package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operator = Identity("ops@mediaproof.test")

var (
	yesterday = Date{Year: 2026, Month: time.March, Day: 9}
	today     = Date{Year: 2026, Month: time.March, Day: 10}
)

func testRules() Rules {
	return NewRules(DefaultCatalog(), operator)
}

func TestRules_NewSnapshot(t *testing.T) {
	snap, err := testRules().NewSnapshot("u1", today)
	require.NoError(t, err)

	assert.Equal(t, Identity("u1"), snap.Identity)
	assert.Equal(t, PlanFree, snap.PlanID)
	assert.Equal(t, 2, snap.CreditsRemaining)
	assert.Equal(t, today, snap.LastResetDate)
}

func TestRules_ResetIfStale(t *testing.T) {
	rules := testRules()

	tests := []struct {
		name        string
		in          Snapshot
		wantCredits int
		wantDate    Date
	}{
		{
			name:        "stale snapshot is regranted",
			in:          Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 0, LastResetDate: yesterday},
			wantCredits: 2,
			wantDate:    today,
		},
		{
			name:        "same day is unchanged",
			in:          Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 1, LastResetDate: today},
			wantCredits: 1,
			wantDate:    today,
		},
		{
			name:        "future reset date never moves back",
			in:          Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 0, LastResetDate: Date{Year: 2026, Month: time.March, Day: 11}},
			wantCredits: 0,
			wantDate:    Date{Year: 2026, Month: time.March, Day: 11},
		},
		{
			name:        "zero reset date is stale",
			in:          Snapshot{Identity: "u1", PlanID: PlanProfessional},
			wantCredits: 50,
			wantDate:    today,
		},
		{
			name:        "unlimited plan tracks no balance",
			in:          Snapshot{Identity: "u1", PlanID: PlanUnlimited, CreditsRemaining: 4, LastResetDate: yesterday},
			wantCredits: 0,
			wantDate:    today,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.ResetIfStale(tt.in, today)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCredits, got.CreditsRemaining)
			assert.Equal(t, tt.wantDate, got.LastResetDate)
			assert.Equal(t, tt.in.PlanID, got.PlanID)
		})
	}
}

func TestRules_ResetIfStale_Idempotent(t *testing.T) {
	rules := testRules()
	in := Snapshot{Identity: "u1", PlanID: PlanIndividual, CreditsRemaining: 3, LastResetDate: yesterday}

	once, err := rules.ResetIfStale(in, today)
	require.NoError(t, err)
	twice, err := rules.ResetIfStale(once, today)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestRules_ResetIfStale_UnknownPlan(t *testing.T) {
	_, err := testRules().ResetIfStale(Snapshot{Identity: "u1", PlanID: "gold", LastResetDate: yesterday}, today)
	assert.True(t, errors.Is(err, ErrUnknownPlan))
}

func TestRules_ChangePlan(t *testing.T) {
	rules := testRules()

	for _, plan := range rules.Catalog().Plans() {
		if plan.IsUnlimited() {
			continue
		}
		for _, prior := range []int{0, 1, 7, 500} {
			in := Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: prior, LastResetDate: yesterday}

			got, err := rules.ChangePlan(in, plan.ID)
			require.NoError(t, err)
			assert.Equal(t, plan.ID, got.PlanID)
			assert.Equal(t, plan.DailyQuota, got.CreditsRemaining, "plan %s prior %d", plan.ID, prior)
			assert.Equal(t, yesterday, got.LastResetDate, "reset date must not move")
		}
	}
}

func TestRules_ChangePlan_Unknown(t *testing.T) {
	in := Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 1, LastResetDate: today}

	got, err := testRules().ChangePlan(in, "platinum")
	assert.Equal(t, EUNKNOWNPLAN, ErrorCode(err))
	assert.Equal(t, in, got)
}

func TestRules_Debit(t *testing.T) {
	rules := testRules()

	t.Run("decrements", func(t *testing.T) {
		got, err := rules.Debit(Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 2}, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, got.CreditsRemaining)
	})

	t.Run("insufficient credits", func(t *testing.T) {
		in := Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 0}
		got, err := rules.Debit(in, 1)
		assert.True(t, errors.Is(err, ErrInsufficientCredits))
		assert.Equal(t, in, got)
	})

	t.Run("operator is exempt on every plan", func(t *testing.T) {
		for _, plan := range rules.Catalog().Plans() {
			in := Snapshot{Identity: operator, PlanID: plan.ID, CreditsRemaining: 0}
			got, err := rules.Debit(in, 1)
			require.NoError(t, err)
			assert.Equal(t, in, got)
		}
	})

	t.Run("unlimited plan is a no-op", func(t *testing.T) {
		in := Snapshot{Identity: "u1", PlanID: PlanUnlimited, CreditsRemaining: 0}
		got, err := rules.Debit(in, 1)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := rules.Debit(Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 2}, 0)
		assert.Equal(t, EINVALID, ErrorCode(err))
	})
}

func TestRules_Grant_NotClamped(t *testing.T) {
	rules := testRules()
	in := Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 2, LastResetDate: today}

	tests := []struct {
		name     string
		amount   int
		want     int
		wantCode string
	}{
		{"above daily quota", 1, 3, ""},
		{"up to the ceiling", MaxCredits - 2, MaxCredits, ""},
		{"negative", -1, 2, EINVALID},
		{"zero", 0, 2, EINVALID},
		{"one past the ceiling", MaxCredits - 1, 2, EINVALID},
		{"max int", math.MaxInt, 2, EINVALID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.Grant(in, tt.amount)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, ErrorCode(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got.CreditsRemaining)
			assert.GreaterOrEqual(t, got.CreditsRemaining, 0)
		})
	}
}

func TestRules_HasCredit(t *testing.T) {
	rules := testRules()

	tests := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{"positive balance", Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 1}, true},
		{"empty balance", Snapshot{Identity: "u1", PlanID: PlanFree, CreditsRemaining: 0}, false},
		{"unlimited plan", Snapshot{Identity: "u1", PlanID: PlanUnlimited, CreditsRemaining: 0}, true},
		{"operator", Snapshot{Identity: operator, PlanID: PlanFree, CreditsRemaining: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.HasCredit(tt.snap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRules_NoOperatorConfigured(t *testing.T) {
	rules := NewRules(DefaultCatalog(), "")
	assert.False(t, rules.IsUnrestricted(""))
}

func TestNewIdentity_FoldsCase(t *testing.T) {
	assert.Equal(t, NewIdentity("ops@mediaproof.test"), NewIdentity("  OPS@MediaProof.test "))
	assert.True(t, NewIdentity("   ").IsZero())
}
