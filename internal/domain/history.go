package domain

import (
	"encoding/json"
	"iter"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

// HistoryCapacity is the maximum number of records kept per identity.
const HistoryCapacity = 50

// Record is one completed submission in the history log.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	Label      string          `json:"label"`
	RiskScore  int             `json:"risk_score"` // 0-100
	RecordedAt time.Time       `json:"recorded_at"`
	Report     json.RawMessage `json:"report,omitempty"` // raw analysis report, if kept
}

// NewRecord builds a record with a time-ordered id. The risk score is
// rounded and clamped into 0-100.
func NewRecord(label string, riskScore float64, report json.RawMessage, at time.Time) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, Internal(err, "history.new_record", "failed to generate record id")
	}
	return Record{
		ID:         id,
		Label:      label,
		RiskScore:  clampScore(riskScore),
		RecordedAt: at,
		Report:     report,
	}, nil
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

// HistoryLog is a bounded, newest-first record log backed by a ring buffer.
// Appending beyond capacity evicts the oldest record.
type HistoryLog struct {
	buf  []Record
	next int // slot the next Append writes to
	size int
}

// NewHistoryLog creates an empty log. A non-positive capacity selects
// HistoryCapacity.
func NewHistoryLog(capacity int) *HistoryLog {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &HistoryLog{buf: make([]Record, capacity)}
}

// HistoryFrom rebuilds a log from records ordered newest first. Records
// beyond capacity are dropped from the old end.
func HistoryFrom(newestFirst []Record, capacity int) *HistoryLog {
	l := NewHistoryLog(capacity)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		l.Append(newestFirst[i])
	}
	return l
}

// Append inserts r at the head. The zero HistoryLog holds HistoryCapacity
// records.
func (l *HistoryLog) Append(r Record) {
	if len(l.buf) == 0 {
		l.buf = make([]Record, HistoryCapacity)
	}
	l.buf[l.next] = r
	l.next = (l.next + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
}

// Len returns the number of records held.
func (l *HistoryLog) Len() int {
	return l.size
}

// Cap returns the maximum number of records held.
func (l *HistoryLog) Cap() int {
	if len(l.buf) == 0 {
		return HistoryCapacity
	}
	return len(l.buf)
}

// All returns a lazy newest-first view. Each call starts a fresh pass and
// the log is not modified.
func (l *HistoryLog) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for i := 0; i < l.size; i++ {
			idx := (l.next - 1 - i + len(l.buf)) % len(l.buf)
			if !yield(l.buf[idx]) {
				return
			}
		}
	}
}

// List copies the records newest first.
func (l *HistoryLog) List() []Record {
	out := slices.Collect(l.All())
	if out == nil {
		out = []Record{}
	}
	return out
}

// MarshalJSON encodes the log as a newest-first array.
func (l *HistoryLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.List())
}

// UnmarshalJSON decodes a newest-first array. null decodes to an empty log.
func (l *HistoryLog) UnmarshalJSON(b []byte) error {
	var records []Record
	if err := json.Unmarshal(b, &records); err != nil {
		return err
	}
	capacity := len(l.buf)
	*l = *HistoryFrom(records, capacity)
	return nil
}
