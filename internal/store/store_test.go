package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DukeRupert/mediaproof/internal"
	"github.com/DukeRupert/mediaproof/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = domain.Date{Year: 2026, Month: time.March, Day: 4}

func record(t *testing.T, label string, score float64) domain.Record {
	t.Helper()
	r, err := domain.NewRecord(label, score, json.RawMessage(`{"risk":{"globalScore":1}}`), time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, err)
	return r
}

// runStoreContract exercises behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("missing snapshot is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadSnapshot(ctx, "nobody@example.com")
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	})

	t.Run("snapshot round trip and replace", func(t *testing.T) {
		s := newStore(t)
		snap := domain.Snapshot{
			Identity:         "ann@example.com",
			PlanID:           domain.PlanIndividual,
			CreditsRemaining: 7,
			LastResetDate:    testDay,
		}
		require.NoError(t, s.SaveSnapshot(ctx, snap))

		got, err := s.LoadSnapshot(ctx, snap.Identity)
		require.NoError(t, err)
		assert.Equal(t, snap, got)

		snap.CreditsRemaining = 6
		require.NoError(t, s.SaveSnapshot(ctx, snap))
		got, err = s.LoadSnapshot(ctx, snap.Identity)
		require.NoError(t, err)
		assert.Equal(t, 6, got.CreditsRemaining)
	})

	t.Run("snapshot without identity is invalid", func(t *testing.T) {
		s := newStore(t)
		err := s.SaveSnapshot(ctx, domain.Snapshot{PlanID: domain.PlanFree})
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("missing history is empty", func(t *testing.T) {
		s := newStore(t)
		records, err := s.ListHistory(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	})

	t.Run("history is newest first and capped", func(t *testing.T) {
		s := newStore(t)
		id := domain.Identity("cap@example.com")

		for i := range domain.HistoryCapacity + 1 {
			require.NoError(t, s.AppendHistory(ctx, id, record(t, fmt.Sprintf("file-%02d", i), float64(i))))
		}

		records, err := s.ListHistory(ctx, id)
		require.NoError(t, err)
		require.Len(t, records, domain.HistoryCapacity)
		assert.Equal(t, "file-50", records[0].Label)
		assert.Equal(t, "file-01", records[len(records)-1].Label)
		assert.JSONEq(t, `{"risk":{"globalScore":1}}`, string(records[0].Report))
	})

	t.Run("history is per identity", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.AppendHistory(ctx, "a@example.com", record(t, "a.png", 10)))

		records, err := s.ListHistory(ctx, "b@example.com")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestMemory(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemory() })
}

func TestFile(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		f, err := OpenFile(filepath.Join(t.TempDir(), "state.json"), slog.New(slog.DiscardHandler))
		require.NoError(t, err)
		return f
	})
}

func TestFile_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	logger := slog.New(slog.DiscardHandler)

	f, err := OpenFile(path, logger)
	require.NoError(t, err)

	snap := domain.Snapshot{Identity: "ann@example.com", PlanID: domain.PlanFree, CreditsRemaining: 1, LastResetDate: testDay}
	require.NoError(t, f.SaveSnapshot(ctx, snap))
	require.NoError(t, f.AppendHistory(ctx, snap.Identity, record(t, "one.png", 40)))
	require.NoError(t, f.AppendHistory(ctx, snap.Identity, record(t, "two.png", 60)))

	reopened, err := OpenFile(path, logger)
	require.NoError(t, err)

	got, err := reopened.LoadSnapshot(ctx, snap.Identity)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	records, err := reopened.ListHistory(ctx, snap.Identity)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "two.png", records[0].Label)
	assert.Equal(t, 60, records[0].RiskScore)
}

func TestOpenFile_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"accounts":{}}`), 0o644))

	_, err := OpenFile(path, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestOpenFile_RejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := OpenFile(path, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

// TestPostgres runs against a real database when TEST_DATABASE_URL is set.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, internal.RunMigrations(db))

	runStoreContract(t, func(t *testing.T) Store {
		_, err := db.Exec(`TRUNCATE entitlements, history_records`)
		require.NoError(t, err)
		return NewPostgres(db)
	})
}
