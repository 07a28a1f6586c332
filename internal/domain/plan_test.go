package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_TotalOverBuiltInPlans(t *testing.T) {
	catalog := DefaultCatalog()

	for _, id := range []PlanID{PlanFree, PlanIndividual, PlanProfessional, PlanUnlimited} {
		p, err := catalog.Plan(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, p.ID)
	}
	assert.Len(t, catalog.Plans(), 4)
}

func TestCatalog_UnknownPlan(t *testing.T) {
	_, err := DefaultCatalog().Plan("enterprise")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestDefaultCatalog_Policies(t *testing.T) {
	catalog := DefaultCatalog()

	free, _ := catalog.Plan(PlanFree)
	assert.Equal(t, 2, free.DailyQuota)
	assert.True(t, free.Allows(MediaImage))
	assert.False(t, free.Allows(MediaVideo))
	assert.False(t, free.HistoryEnabled)

	unlimited, _ := catalog.Plan(PlanUnlimited)
	assert.True(t, unlimited.IsUnlimited())
	assert.Equal(t, time.Duration(0), unlimited.Latency.Delay())
}

func TestMediaKindOf(t *testing.T) {
	tests := []struct {
		contentType string
		want        MediaKind
	}{
		{"image/png", MediaImage},
		{"IMAGE/JPEG; charset=binary", MediaImage},
		{"audio/wav", MediaAudio},
		{"video/mp4", MediaVideo},
		{"application/octet-stream", MediaVideo},
		{"", MediaVideo},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, MediaKindOf(tt.contentType))
		})
	}
}

func TestLatencyClass_Ordered(t *testing.T) {
	assert.Less(t, LatencyInstant.Delay(), LatencyExpedited.Delay())
	assert.Less(t, LatencyExpedited.Delay(), LatencyStandard.Delay())
	assert.Equal(t, "standard", LatencyStandard.String())
}

func TestDate(t *testing.T) {
	d := DateOf(time.Date(2026, time.January, 5, 23, 59, 0, 0, time.Local))
	assert.Equal(t, "2026-01-05", d.String())
	assert.True(t, d.Before(Date{Year: 2026, Month: time.January, Day: 6}))
	assert.False(t, d.Before(d))

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-01-05"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)

	var empty Date
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsZero())
}
