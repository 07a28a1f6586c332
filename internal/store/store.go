// Package store persists entitlement snapshots and history records keyed by
// identity.
//
// Three backends are provided:
// - Memory: process-local, lost on restart (tests, demos)
// - File: a single JSON document rewritten atomically on every change
// - Postgres: database/sql over pgx, schema managed by goose
package store

import (
	"context"

	"github.com/DukeRupert/mediaproof/internal/domain"
)

// Store is the persisted state of every identity.
type Store interface {
	// LoadSnapshot returns the stored snapshot for id, or an ENOTFOUND
	// *domain.Error if the identity has never been saved.
	LoadSnapshot(ctx context.Context, id domain.Identity) (domain.Snapshot, error)

	// SaveSnapshot replaces the stored snapshot for s.Identity.
	SaveSnapshot(ctx context.Context, s domain.Snapshot) error

	// AppendHistory adds a record to id's history, evicting the oldest
	// records beyond domain.HistoryCapacity.
	AppendHistory(ctx context.Context, id domain.Identity, r domain.Record) error

	// ListHistory returns id's records newest-first. An identity without
	// history yields an empty, non-nil slice.
	ListHistory(ctx context.Context, id domain.Identity) ([]domain.Record, error)
}

// Backend names accepted by configuration.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

func snapshotNotFound(op string, id domain.Identity) error {
	return domain.NotFound(op, "entitlement", id.String())
}
