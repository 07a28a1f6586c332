package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/DukeRupert/mediaproof/internal/domain"
)

// fileFormatVersion is bumped whenever the document layout changes.
const fileFormatVersion = 1

type fileDocument struct {
	Version  int                               `json:"version"`
	Accounts map[domain.Identity]*fileAccount `json:"accounts"`
}

type fileAccount struct {
	Snapshot *domain.Snapshot   `json:"snapshot,omitempty"`
	History  *domain.HistoryLog `json:"history"`
}

// File is a Store backed by one JSON document. Every write rewrites the
// whole document through a temp file and rename.
type File struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	doc fileDocument
}

// OpenFile loads the document at path, or starts empty if it does not exist.
func OpenFile(path string, logger *slog.Logger) (*File, error) {
	f := &File{
		path:   path,
		logger: logger,
		doc: fileDocument{
			Version:  fileFormatVersion,
			Accounts: make(map[domain.Identity]*fileAccount),
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("state file not found, starting empty", "path", path)
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("state file %s has version %d, newest supported is %d", path, doc.Version, fileFormatVersion)
	}
	if doc.Accounts != nil {
		f.doc.Accounts = doc.Accounts
	}

	logger.Info("loaded state file", "path", path, "accounts", len(f.doc.Accounts))
	return f, nil
}

func (f *File) LoadSnapshot(ctx context.Context, id domain.Identity) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	acct, ok := f.doc.Accounts[id]
	if !ok || acct.Snapshot == nil {
		return domain.Snapshot{}, snapshotNotFound("store.load_snapshot", id)
	}
	return *acct.Snapshot, nil
}

func (f *File) SaveSnapshot(ctx context.Context, s domain.Snapshot) error {
	const op = "store.save_snapshot"
	if s.Identity.IsZero() {
		return domain.Invalid(op, "snapshot has no identity")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	acct := f.account(s.Identity)
	prev := acct.Snapshot
	acct.Snapshot = &s
	if err := f.flush(); err != nil {
		acct.Snapshot = prev
		return domain.Internal(err, op, "failed to write state file")
	}
	return nil
}

func (f *File) AppendHistory(ctx context.Context, id domain.Identity, r domain.Record) error {
	const op = "store.append_history"

	f.mu.Lock()
	defer f.mu.Unlock()

	acct := f.account(id)
	prev := acct.History.List()
	acct.History.Append(r)
	if err := f.flush(); err != nil {
		acct.History = domain.HistoryFrom(prev, domain.HistoryCapacity)
		return domain.Internal(err, op, "failed to write state file")
	}
	return nil
}

func (f *File) ListHistory(ctx context.Context, id domain.Identity) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	acct, ok := f.doc.Accounts[id]
	if !ok || acct.History == nil {
		return []domain.Record{}, nil
	}
	return acct.History.List(), nil
}

// account returns id's entry, creating it if needed. Caller holds mu.
func (f *File) account(id domain.Identity) *fileAccount {
	acct, ok := f.doc.Accounts[id]
	if !ok {
		acct = &fileAccount{}
		f.doc.Accounts[id] = acct
	}
	if acct.History == nil {
		acct.History = domain.NewHistoryLog(domain.HistoryCapacity)
	}
	return acct
}

// flush writes the document atomically. Caller holds mu.
func (f *File) flush() error {
	data, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
