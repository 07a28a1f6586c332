package store

import (
	"context"
	"sync"

	"github.com/DukeRupert/mediaproof/internal/domain"
)

// Memory is an in-process Store.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[domain.Identity]domain.Snapshot
	history   map[domain.Identity]*domain.HistoryLog
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[domain.Identity]domain.Snapshot),
		history:   make(map[domain.Identity]*domain.HistoryLog),
	}
}

func (m *Memory) LoadSnapshot(ctx context.Context, id domain.Identity) (domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[id]
	if !ok {
		return domain.Snapshot{}, snapshotNotFound("store.load_snapshot", id)
	}
	return s, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, s domain.Snapshot) error {
	if s.Identity.IsZero() {
		return domain.Invalid("store.save_snapshot", "snapshot has no identity")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.Identity] = s
	return nil
}

func (m *Memory) AppendHistory(ctx context.Context, id domain.Identity, r domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log, ok := m.history[id]
	if !ok {
		log = domain.NewHistoryLog(domain.HistoryCapacity)
		m.history[id] = log
	}
	log.Append(r)
	return nil
}

func (m *Memory) ListHistory(ctx context.Context, id domain.Identity) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.history[id]
	if !ok {
		return []domain.Record{}, nil
	}
	return log.List(), nil
}
