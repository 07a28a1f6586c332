// Package orchestrator drives one identity's submission attempts through
// admission, upload, analysis, and finalization.
//
// The orchestrator never holds entitlement state of its own. Callers pass
// the current snapshot into Submit and receive the updated snapshot back.
// Admission is pure and performs no I/O; a rejected attempt never reaches a
// collaborator. Credit is debited only once analysis has succeeded.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/mediaproof/internal/analysis"
	"github.com/DukeRupert/mediaproof/internal/domain"
	"github.com/DukeRupert/mediaproof/internal/metrics"
	"github.com/DukeRupert/mediaproof/internal/storage"
	"github.com/google/uuid"
)

// Ledger records the effects of a completed attempt.
type Ledger interface {
	SaveSnapshot(ctx context.Context, s domain.Snapshot) error
	AppendHistory(ctx context.Context, id domain.Identity, r domain.Record) error
}

// File is the media handed to Submit.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// View is a read-only picture of the current attempt.
type View struct {
	AttemptID   uuid.UUID
	State       domain.AttemptState
	Filename    string
	MediaKind   domain.MediaKind
	Locator     string
	Report      *analysis.Report // nil until the result may be displayed
	Err         error            // rejection or failure reason
	Warnings    []error          // EPERSISTENCE errors from finalization
	SubmittedAt time.Time
	ReadyAt     time.Time
}

// Result is returned by Submit. Snapshot reflects any daily reset applied
// during admission and the debit applied during finalization, and is valid
// even when Submit returns an error.
type Result struct {
	View     View
	Snapshot domain.Snapshot
}

// Config holds the orchestrator's collaborators.
type Config struct {
	Rules    domain.Rules
	Uploader storage.Uploader
	Analyzer analysis.Service
	Ledger   Ledger
	Logger   *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator owns at most one attempt at a time.
type Orchestrator struct {
	rules    domain.Rules
	uploader storage.Uploader
	analyzer analysis.Service
	ledger   Ledger
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	current *attempt
}

type attempt struct {
	id          uuid.UUID
	file        File
	kind        domain.MediaKind
	state       domain.AttemptState
	locator     string
	report      *analysis.Report
	err         error
	warnings    []error
	submittedAt time.Time
	readyAt     time.Time
	cancel      context.CancelFunc
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		rules:    cfg.Rules,
		uploader: cfg.Uploader,
		analyzer: cfg.Analyzer,
		ledger:   cfg.Ledger,
		logger:   logger,
		now:      now,
	}
}

// Submit runs one attempt to a terminal state and blocks until it gets
// there, until ctx is canceled, or until ResetToIdle discards it.
//
// Errors:
//   - admission: ENOTAUTHENTICATED, EQUOTAEXHAUSTED, EFEATURELOCKED, EBUSY
//   - pipeline: EUPLOAD, EANALYSIS (no credit charged)
//   - ECANCELED if the attempt was discarded (no credit charged)
//
// Persistence failures during finalization do not fail the attempt; they
// are reported as EPERSISTENCE entries in View.Warnings.
func (o *Orchestrator) Submit(ctx context.Context, snap domain.Snapshot, file File) (Result, error) {
	att, err := o.begin(snap, file)
	if err != nil {
		return Result{View: o.State(), Snapshot: snap}, err
	}

	logger := o.logger.With("identity", snap.Identity, "attempt_id", att.id)

	snap, plan, err := o.admit(snap, att.kind)
	if err != nil {
		o.settle(att, domain.AttemptRejected, err)
		metrics.SubmissionRejected(domain.ErrorCode(err))
		logger.Info("submission rejected", "reason", domain.ErrorCode(err), "kind", att.kind)
		return Result{View: o.viewOf(att), Snapshot: snap}, err
	}

	metrics.SubmissionStarted()
	defer metrics.SubmissionEnded()

	// Upload
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.advance(att, domain.AttemptUploading, func(a *attempt) { a.cancel = cancel }) {
		return o.discarded(att, snap, logger)
	}

	start := time.Now()
	locator, err := o.uploader.Upload(attemptCtx, file.Body, storage.Metadata{
		Filename:    file.Name,
		ContentType: file.ContentType,
		Size:        file.Size,
	})
	metrics.ExternalCall("upload", time.Since(start), err)
	if o.isDiscarded(att) {
		return o.discarded(att, snap, logger)
	}
	if err != nil {
		return o.fail(att, snap, domain.UploadFailed(err, "orchestrator.upload"), logger)
	}

	// Analyze
	if !o.advance(att, domain.AttemptSubmitting, func(a *attempt) { a.locator = locator }) {
		return o.discarded(att, snap, logger)
	}

	start = time.Now()
	report, err := o.analyzer.Analyze(attemptCtx, locator, att.kind)
	metrics.ExternalCall("analyze", time.Since(start), err)
	if o.isDiscarded(att) {
		return o.discarded(att, snap, logger)
	}
	if err == nil {
		err = report.Validate()
	}
	if err != nil {
		return o.fail(att, snap, domain.AnalysisFailed(err, "orchestrator.analyze"), logger)
	}

	// Finalize
	if !o.advance(att, domain.AttemptFinalizing, func(a *attempt) { a.report = report }) {
		return o.discarded(att, snap, logger)
	}

	// The result exists now; a late cancel must not lose the charge or
	// the record.
	snap, warnings := o.finalize(context.WithoutCancel(ctx), snap, plan, att, report, logger)

	readyAt := o.now().Add(plan.Latency.Delay())
	if o.rules.IsUnrestricted(snap.Identity) {
		readyAt = o.now()
	}
	o.mu.Lock()
	att.warnings = warnings
	att.readyAt = readyAt
	att.state = domain.AttemptComplete
	view := o.viewLocked(att)
	o.mu.Unlock()

	metrics.SubmissionCompleted()
	logger.Info("submission complete",
		"risk_score", report.RiskScore,
		"credits_remaining", snap.CreditsRemaining,
		"warnings", len(warnings),
	)
	return Result{View: view, Snapshot: snap}, nil
}

// ResetToIdle discards the current attempt, canceling any call in flight.
// Credit already debited by a finalized attempt is not refunded.
func (o *Orchestrator) ResetToIdle() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	if att := o.current; att != nil {
		if att.cancel != nil {
			att.cancel()
		}
		o.logger.Debug("attempt discarded", "attempt_id", att.id, "state", att.state)
		o.current = nil
	}
	return View{State: domain.AttemptIdle}
}

// State returns the current attempt as the user should see it.
func (o *Orchestrator) State() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return View{State: domain.AttemptIdle}
	}
	return o.viewLocked(o.current)
}

// Busy reports whether an attempt is between admission and display.
func (o *Orchestrator) Busy() bool {
	return o.State().State.IsActive()
}

// Ready blocks until the current attempt's display delay has elapsed and
// returns its view. It returns immediately when there is nothing to wait for.
func (o *Orchestrator) Ready(ctx context.Context) (View, error) {
	for {
		o.mu.Lock()
		att := o.current
		if att == nil || att.state != domain.AttemptComplete {
			var v View
			if att == nil {
				v = View{State: domain.AttemptIdle}
			} else {
				v = o.viewLocked(att)
			}
			o.mu.Unlock()
			return v, nil
		}
		wait := att.readyAt.Sub(o.now())
		if wait <= 0 {
			v := o.viewLocked(att)
			o.mu.Unlock()
			return v, nil
		}
		o.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return o.State(), ctx.Err()
		case <-timer.C:
		}
	}
}

// begin installs a new attempt in the Admitting state.
func (o *Orchestrator) begin(snap domain.Snapshot, file File) (*attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cur := o.current; cur != nil && o.displayState(cur).IsActive() {
		return nil, domain.Busy("orchestrator.submit")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, domain.Internal(err, "orchestrator.submit", "failed to generate attempt id")
	}

	att := &attempt{
		id:          id,
		file:        file,
		kind:        domain.MediaKindOf(storage.DetectContentType(file.ContentType, file.Name, nil)),
		state:       domain.AttemptAdmitting,
		submittedAt: o.now(),
	}
	o.current = att
	return att, nil
}

// admit applies the daily reset and checks identity, credit, and media
// kind, in that order.
func (o *Orchestrator) admit(snap domain.Snapshot, kind domain.MediaKind) (domain.Snapshot, domain.Plan, error) {
	const op = "orchestrator.admit"

	if !snap.IsSignedIn() {
		return snap, domain.Plan{}, domain.NotAuthenticated(op)
	}

	snap, err := o.rules.ResetIfStale(snap, domain.DateOf(o.now()))
	if err != nil {
		return snap, domain.Plan{}, err
	}

	plan, err := o.rules.Plan(snap.PlanID)
	if err != nil {
		return snap, domain.Plan{}, err
	}

	ok, err := o.rules.HasCredit(snap)
	if err != nil {
		return snap, plan, err
	}
	if !ok {
		return snap, plan, domain.QuotaExhausted(op, plan.ID)
	}

	if !o.rules.IsUnrestricted(snap.Identity) && !plan.Allows(kind) {
		return snap, plan, domain.FeatureLocked(op, plan.ID, kind)
	}

	return snap, plan, nil
}

// finalize debits one credit, saves the snapshot, then appends a history
// record if the plan keeps history. Write failures become warnings.
func (o *Orchestrator) finalize(ctx context.Context, snap domain.Snapshot, plan domain.Plan, att *attempt, report *analysis.Report, logger *slog.Logger) (domain.Snapshot, []error) {
	const op = "orchestrator.finalize"
	var warnings []error

	debited, err := o.rules.Debit(snap, 1)
	if err != nil {
		// Admission guarantees a credit; reaching here means the snapshot
		// changed underneath the attempt.
		logger.Error("debit failed after analysis", "error", err)
		warnings = append(warnings, domain.PersistenceWarning(err, op, "credit could not be debited"))
	} else {
		if debited.CreditsRemaining != snap.CreditsRemaining {
			metrics.CreditsDebited.WithLabelValues(string(plan.ID)).Inc()
		}
		snap = debited
	}

	if err := o.ledger.SaveSnapshot(ctx, snap); err != nil {
		metrics.PersistenceWarnings.WithLabelValues("snapshot").Inc()
		logger.Error("failed to save snapshot", "error", err)
		warnings = append(warnings, domain.PersistenceWarning(err, op, "credit balance was not saved"))
	}

	if !plan.HistoryEnabled {
		return snap, warnings
	}

	rec, err := domain.NewRecord(att.file.Name, report.RiskScore, report.Raw, o.now())
	if err == nil {
		err = o.ledger.AppendHistory(ctx, snap.Identity, rec)
	}
	if err != nil {
		metrics.PersistenceWarnings.WithLabelValues("history").Inc()
		logger.Error("failed to append history", "error", err)
		warnings = append(warnings, domain.PersistenceWarning(err, op, "result was not added to history"))
	} else {
		metrics.HistoryAppends.Inc()
	}

	return snap, warnings
}

// advance moves att to next if att is still current, applying mutate under
// the lock. It returns false if att has been discarded.
func (o *Orchestrator) advance(att *attempt, next domain.AttemptState, mutate func(*attempt)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != att || !att.state.CanTransitionTo(next) {
		return false
	}
	if mutate != nil {
		mutate(att)
	}
	att.state = next
	return true
}

// settle moves att to a terminal failure state.
func (o *Orchestrator) settle(att *attempt, state domain.AttemptState, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	att.state = state
	att.err = err
	att.cancel = nil
}

func (o *Orchestrator) fail(att *attempt, snap domain.Snapshot, err error, logger *slog.Logger) (Result, error) {
	o.settle(att, domain.AttemptFailed, err)
	metrics.SubmissionFailed(domain.ErrorCode(err))
	logger.Warn("submission failed", "reason", domain.ErrorCode(err), "error", err)
	return Result{View: o.viewOf(att), Snapshot: snap}, err
}

func (o *Orchestrator) discarded(att *attempt, snap domain.Snapshot, logger *slog.Logger) (Result, error) {
	metrics.SubmissionCanceled()
	logger.Info("submission discarded")
	return Result{View: View{State: domain.AttemptIdle}, Snapshot: snap}, domain.Canceled("orchestrator.submit")
}

func (o *Orchestrator) isDiscarded(att *attempt) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != att
}

func (o *Orchestrator) viewOf(att *attempt) View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked(att)
}

// displayState holds a completed attempt in Finalizing until readyAt.
// Caller holds mu.
func (o *Orchestrator) displayState(att *attempt) domain.AttemptState {
	if att.state == domain.AttemptComplete && o.now().Before(att.readyAt) {
		return domain.AttemptFinalizing
	}
	return att.state
}

// viewLocked builds the user-visible view. Caller holds mu.
func (o *Orchestrator) viewLocked(att *attempt) View {
	v := View{
		AttemptID:   att.id,
		State:       o.displayState(att),
		Filename:    att.file.Name,
		MediaKind:   att.kind,
		Locator:     att.locator,
		Err:         att.err,
		SubmittedAt: att.submittedAt,
		ReadyAt:     att.readyAt,
	}
	if len(att.warnings) > 0 {
		v.Warnings = append([]error(nil), att.warnings...)
	}
	// The report stays hidden until it may be displayed.
	if v.State == domain.AttemptComplete {
		v.Report = att.report
	}
	return v
}

// IsCanceled reports whether err means the attempt was discarded.
func IsCanceled(err error) bool {
	return errors.Is(err, domain.ErrCanceled)
}
