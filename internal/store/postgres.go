package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/mediaproof/internal/domain"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Postgres is a Store over database/sql. The schema lives in
// internal/migrations and is applied by internal.RunMigrations.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const loadSnapshot = `
SELECT plan_id, credits_remaining, last_reset_date
FROM entitlements
WHERE identity = $1`

func (p *Postgres) LoadSnapshot(ctx context.Context, id domain.Identity) (domain.Snapshot, error) {
	const op = "store.load_snapshot"

	var (
		planID  string
		credits int
		reset   time.Time
	)
	err := p.db.QueryRowContext(ctx, loadSnapshot, id.String()).Scan(&planID, &credits, &reset)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, snapshotNotFound(op, id)
	}
	if err != nil {
		return domain.Snapshot{}, domain.Internal(err, op, "failed to load entitlement")
	}

	return domain.Snapshot{
		Identity:         id,
		PlanID:           domain.PlanID(planID),
		CreditsRemaining: credits,
		LastResetDate:    domain.Date{Year: reset.Year(), Month: reset.Month(), Day: reset.Day()},
	}, nil
}

const upsertSnapshot = `
INSERT INTO entitlements (identity, plan_id, credits_remaining, last_reset_date)
VALUES ($1, $2, $3, $4)
ON CONFLICT (identity) DO UPDATE SET
    plan_id = EXCLUDED.plan_id,
    credits_remaining = EXCLUDED.credits_remaining,
    last_reset_date = EXCLUDED.last_reset_date,
    updated_at = NOW()`

func (p *Postgres) SaveSnapshot(ctx context.Context, s domain.Snapshot) error {
	const op = "store.save_snapshot"
	if s.Identity.IsZero() {
		return domain.Invalid(op, "snapshot has no identity")
	}

	// DATE columns carry no zone; send the calendar day as text.
	if _, err := p.db.ExecContext(ctx, upsertSnapshot,
		s.Identity.String(), string(s.PlanID), s.CreditsRemaining, s.LastResetDate.String(),
	); err != nil {
		return domain.Internal(err, op, "failed to save entitlement")
	}
	return nil
}

const insertRecord = `
INSERT INTO history_records (id, identity, label, risk_score, recorded_at, report)
VALUES ($1, $2, $3, $4, $5, $6)`

// Keep only the newest rows per identity.
const trimHistory = `
DELETE FROM history_records
WHERE identity = $1
  AND seq NOT IN (
    SELECT seq FROM history_records
    WHERE identity = $1
    ORDER BY seq DESC
    LIMIT $2
  )`

func (p *Postgres) AppendHistory(ctx context.Context, id domain.Identity, r domain.Record) error {
	const op = "store.append_history"

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	report := pqtype.NullRawMessage{RawMessage: r.Report, Valid: len(r.Report) > 0}
	if _, err := tx.ExecContext(ctx, insertRecord,
		r.ID, id.String(), r.Label, r.RiskScore, r.RecordedAt, report,
	); err != nil {
		return domain.Internal(err, op, "failed to insert history record")
	}
	if _, err := tx.ExecContext(ctx, trimHistory, id.String(), domain.HistoryCapacity); err != nil {
		return domain.Internal(err, op, "failed to trim history")
	}
	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "failed to commit history record")
	}
	return nil
}

const listHistory = `
SELECT id, label, risk_score, recorded_at, report
FROM history_records
WHERE identity = $1
ORDER BY seq DESC
LIMIT $2`

func (p *Postgres) ListHistory(ctx context.Context, id domain.Identity) ([]domain.Record, error) {
	const op = "store.list_history"

	rows, err := p.db.QueryContext(ctx, listHistory, id.String(), domain.HistoryCapacity)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list history")
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var (
			r      domain.Record
			rid    uuid.UUID
			report pqtype.NullRawMessage
		)
		if err := rows.Scan(&rid, &r.Label, &r.RiskScore, &r.RecordedAt, &report); err != nil {
			return nil, domain.Internal(err, op, "failed to scan history record")
		}
		r.ID = rid
		if report.Valid {
			r.Report = json.RawMessage(report.RawMessage)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(fmt.Errorf("iterate history: %w", err), op, "failed to list history")
	}
	return records, nil
}
