// Package session exposes the user-facing commands for one identity:
// sign in, change plan, grant credit, submit, reset, and list history.
//
// A Manager keeps one Session per identity. Each Session owns an
// orchestrator, so at most one attempt per identity is ever in flight, and
// serializes every write to that identity's snapshot.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/mediaproof/internal/analysis"
	"github.com/DukeRupert/mediaproof/internal/domain"
	"github.com/DukeRupert/mediaproof/internal/metrics"
	"github.com/DukeRupert/mediaproof/internal/orchestrator"
	"github.com/DukeRupert/mediaproof/internal/storage"
	"github.com/DukeRupert/mediaproof/internal/store"
)

// State is the read-only view returned by every command.
type State struct {
	Snapshot domain.Snapshot
	Plan     domain.Plan
	Attempt  orchestrator.View
}

// Config holds the Manager's collaborators.
type Config struct {
	Rules    domain.Rules
	Store    store.Store
	Uploader storage.Uploader
	Analyzer analysis.Service
	Logger   *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Manager tracks the sessions of signed-in identities.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[domain.Identity]*Session
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[domain.Identity]*Session),
	}
}

// Rules returns the entitlement rules sessions apply.
func (m *Manager) Rules() domain.Rules {
	return m.cfg.Rules
}

// SignIn normalizes raw into an identity, loads its snapshot or starts a new
// one on the free plan, applies the daily reset, and persists the result.
func (m *Manager) SignIn(ctx context.Context, raw string) (*Session, State, error) {
	const op = "session.sign_in"

	id := domain.NewIdentity(raw)
	if id.IsZero() {
		return nil, State{}, domain.Invalid(op, "identity is required")
	}

	sess := m.session(id)

	// A running submission already holds a fresh snapshot; signing in again
	// just reports it.
	if !sess.writeMu.TryLock() {
		state, err := sess.State(ctx)
		return sess, state, err
	}
	defer sess.writeMu.Unlock()

	today := domain.DateOf(m.cfg.Now())
	snap, err := m.cfg.Store.LoadSnapshot(ctx, id)
	switch {
	case domain.ErrorCode(err) == domain.ENOTFOUND:
		snap, err = m.cfg.Rules.NewSnapshot(id, today)
		if err != nil {
			return nil, State{}, err
		}
		m.logger.Info("new identity signed in", "identity", id, "plan", snap.PlanID)
	case err != nil:
		return nil, State{}, err
	default:
		snap, err = m.cfg.Rules.ResetIfStale(snap, today)
		if err != nil {
			return nil, State{}, err
		}
	}

	if err := m.cfg.Store.SaveSnapshot(ctx, snap); err != nil {
		return nil, State{}, err
	}

	state, err := sess.stateOf(snap)
	return sess, state, err
}

// Session returns the session for raw. An identity that is not active in
// this process but has a stored snapshot is resumed; anything else is
// ENOTAUTHENTICATED.
func (m *Manager) Session(ctx context.Context, raw string) (*Session, error) {
	const op = "session.lookup"

	id := domain.NewIdentity(raw)
	if id.IsZero() {
		return nil, domain.NotAuthenticated(op)
	}

	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return sess, nil
	}

	if _, err := m.cfg.Store.LoadSnapshot(ctx, id); err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, domain.NotAuthenticated(op)
		}
		return nil, err
	}
	return m.session(id), nil
}

// session returns id's session, creating it if needed.
func (m *Manager) session(id domain.Identity) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess
	}
	sess := &Session{
		id:     id,
		cfg:    m.cfg,
		logger: m.logger.With("identity", id),
		orch: orchestrator.New(orchestrator.Config{
			Rules:    m.cfg.Rules,
			Uploader: m.cfg.Uploader,
			Analyzer: m.cfg.Analyzer,
			Ledger:   m.cfg.Store,
			Logger:   m.logger,
			Now:      m.cfg.Now,
		}),
	}
	m.sessions[id] = sess
	return sess
}

// Session is one identity's command surface.
type Session struct {
	id     domain.Identity
	cfg    Config
	logger *slog.Logger
	orch   *orchestrator.Orchestrator

	// writeMu is held for every read-modify-write of the snapshot,
	// including the whole of Submit.
	writeMu sync.Mutex
}

// Identity returns the session's identity.
func (s *Session) Identity() domain.Identity {
	return s.id
}

// State returns the current snapshot with the daily reset applied, and the
// current attempt.
func (s *Session) State(ctx context.Context) (State, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return State{}, err
	}
	return s.stateOf(snap)
}

// ChangePlan switches to planID and regrants its full quota. It fails with
// EBUSY until the current attempt may be displayed and EUNKNOWNPLAN for
// unknown plans.
func (s *Session) ChangePlan(ctx context.Context, planID domain.PlanID) (State, error) {
	if !s.lockIdle() {
		return State{}, domain.Busy("session.change_plan")
	}
	defer s.writeMu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		return State{}, err
	}
	snap, err = s.cfg.Rules.ChangePlan(snap, planID)
	if err != nil {
		return State{}, err
	}
	if err := s.cfg.Store.SaveSnapshot(ctx, snap); err != nil {
		return State{}, err
	}

	metrics.PlanChanges.WithLabelValues(string(planID)).Inc()
	s.logger.Info("plan changed", "plan", planID, "credits_remaining", snap.CreditsRemaining)
	return s.stateOf(snap)
}

// GrantCredit adds amount credits. The balance may exceed the daily quota
// but not domain.MaxCredits. Like ChangePlan it is EBUSY while an attempt is
// active.
func (s *Session) GrantCredit(ctx context.Context, amount int) (State, error) {
	if !s.lockIdle() {
		return State{}, domain.Busy("session.grant_credit")
	}
	defer s.writeMu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		return State{}, err
	}
	snap, err = s.cfg.Rules.Grant(snap, amount)
	if err != nil {
		return State{}, err
	}
	if err := s.cfg.Store.SaveSnapshot(ctx, snap); err != nil {
		return State{}, err
	}

	metrics.CreditsGranted.Add(float64(amount))
	s.logger.Info("credits granted", "amount", amount, "credits_remaining", snap.CreditsRemaining)
	return s.stateOf(snap)
}

// Submit runs file through the pipeline and returns once the attempt is
// terminal. The returned State is meaningful even when err is non-nil.
func (s *Session) Submit(ctx context.Context, file orchestrator.File) (State, error) {
	if !s.writeMu.TryLock() {
		return s.busyState(ctx, "session.submit")
	}
	defer s.writeMu.Unlock()

	loaded, err := s.load(ctx)
	if err != nil {
		return State{}, err
	}

	res, err := s.orch.Submit(ctx, loaded, file)
	if err != nil && res.Snapshot != loaded {
		// Admission applied a daily reset; keep it even though the attempt
		// did not complete.
		if saveErr := s.cfg.Store.SaveSnapshot(context.WithoutCancel(ctx), res.Snapshot); saveErr != nil {
			s.logger.Error("failed to save reset snapshot", "error", saveErr)
		}
	}

	state, stateErr := s.stateOf(res.Snapshot)
	if stateErr != nil {
		return State{}, stateErr
	}
	state.Attempt = res.View
	return state, err
}

// ResetToIdle discards the current attempt. The discarded Submit keeps
// writeMu until its collaborator returns from the canceled context, so a
// new submission in that window is EBUSY even though State reports idle.
func (s *Session) ResetToIdle(ctx context.Context) (State, error) {
	s.orch.ResetToIdle()
	return s.State(ctx)
}

// Ready waits for the current attempt's display delay to pass.
func (s *Session) Ready(ctx context.Context) (State, error) {
	if _, err := s.orch.Ready(ctx); err != nil {
		return State{}, err
	}
	return s.State(ctx)
}

// ListHistory returns stored records newest-first. Records stay visible
// after a downgrade to a plan without history.
func (s *Session) ListHistory(ctx context.Context) ([]domain.Record, error) {
	return s.cfg.Store.ListHistory(ctx, s.id)
}

// lockIdle takes writeMu when no attempt is between admission and display.
// On success the caller must unlock.
func (s *Session) lockIdle() bool {
	if !s.writeMu.TryLock() {
		return false
	}
	if s.orch.Busy() {
		s.writeMu.Unlock()
		return false
	}
	return true
}

func (s *Session) busyState(ctx context.Context, op string) (State, error) {
	state, err := s.State(ctx)
	if err != nil {
		return State{}, err
	}
	return state, domain.Busy(op)
}

// load reads the snapshot and applies the daily reset in memory.
func (s *Session) load(ctx context.Context) (domain.Snapshot, error) {
	snap, err := s.cfg.Store.LoadSnapshot(ctx, s.id)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return domain.Snapshot{}, domain.NotAuthenticated("session.load")
		}
		return domain.Snapshot{}, err
	}
	return s.cfg.Rules.ResetIfStale(snap, domain.DateOf(s.cfg.Now()))
}

func (s *Session) stateOf(snap domain.Snapshot) (State, error) {
	plan, err := s.cfg.Rules.Plan(snap.PlanID)
	if err != nil {
		return State{}, err
	}
	return State{Snapshot: snap, Plan: plan, Attempt: s.orch.State()}, nil
}
