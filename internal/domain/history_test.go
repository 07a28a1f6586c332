package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, label string) Record {
	t.Helper()
	r, err := NewRecord(label, 10, nil, time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return r
}

func labels(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Label
	}
	return out
}

func TestHistoryLog_NewestFirst(t *testing.T) {
	log := NewHistoryLog(0)
	log.Append(record(t, "a"))
	log.Append(record(t, "b"))
	log.Append(record(t, "c"))

	assert.Equal(t, []string{"c", "b", "a"}, labels(log.List()))
	assert.Equal(t, 3, log.Len())
	assert.Equal(t, HistoryCapacity, log.Cap())
}

func TestHistoryLog_EvictsOldestBeyondCapacity(t *testing.T) {
	log := NewHistoryLog(HistoryCapacity)
	for i := 0; i <= HistoryCapacity; i++ {
		log.Append(record(t, fmt.Sprintf("r%02d", i)))
	}

	got := labels(log.List())
	require.Len(t, got, HistoryCapacity)
	assert.Equal(t, "r50", got[0])
	assert.Equal(t, "r01", got[len(got)-1])
	assert.NotContains(t, got, "r00")
}

func TestHistoryLog_ZeroValue(t *testing.T) {
	var log HistoryLog
	assert.Empty(t, log.List())
	assert.Equal(t, HistoryCapacity, log.Cap())

	for i := 0; i < HistoryCapacity+1; i++ {
		log.Append(record(t, fmt.Sprint(i)))
	}
	assert.Equal(t, HistoryCapacity, log.Len())
	assert.Equal(t, fmt.Sprint(HistoryCapacity), log.List()[0].Label)
}

func TestHistoryLog_AllIsRestartable(t *testing.T) {
	log := NewHistoryLog(3)
	log.Append(record(t, "a"))
	log.Append(record(t, "b"))

	var first, second []string
	for r := range log.All() {
		first = append(first, r.Label)
	}
	for r := range log.All() {
		second = append(second, r.Label)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, 2, log.Len())

	// Early break leaves the log intact.
	for range log.All() {
		break
	}
	assert.Equal(t, []string{"b", "a"}, labels(log.List()))
}

func TestHistoryLog_EmptyListIsNotNil(t *testing.T) {
	assert.NotNil(t, NewHistoryLog(5).List())
}

func TestHistoryFrom_TruncatesOldEnd(t *testing.T) {
	in := []Record{record(t, "d"), record(t, "c"), record(t, "b"), record(t, "a")}

	log := HistoryFrom(in, 3)
	assert.Equal(t, []string{"d", "c", "b"}, labels(log.List()))
}

func TestHistoryLog_JSON(t *testing.T) {
	log := NewHistoryLog(0)
	log.Append(record(t, "a"))
	log.Append(record(t, "b"))

	b, err := json.Marshal(log)
	require.NoError(t, err)

	var decoded HistoryLog
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, []string{"b", "a"}, labels(decoded.List()))

	var missing HistoryLog
	require.NoError(t, json.Unmarshal([]byte("null"), &missing))
	assert.Equal(t, 0, missing.Len())
}

func TestNewRecord_ClampsScore(t *testing.T) {
	at := time.Now()
	tests := []struct {
		in   float64
		want int
	}{
		{-5, 0},
		{42.4, 42},
		{42.6, 43},
		{250, 100},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		r, err := NewRecord("x", tt.in, nil, at)
		require.NoError(t, err)
		assert.Equal(t, tt.want, r.RiskScore, "score %v", tt.in)
	}
}

func TestNewRecord_UniqueIDs(t *testing.T) {
	a := record(t, "a")
	b := record(t, "b")
	assert.NotEqual(t, a.ID, b.ID)
}
