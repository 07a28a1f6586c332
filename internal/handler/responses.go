package handler

import (
	"encoding/json"
	"time"

	"github.com/DukeRupert/mediaproof/internal/analysis"
	"github.com/DukeRupert/mediaproof/internal/domain"
	"github.com/DukeRupert/mediaproof/internal/orchestrator"
	"github.com/DukeRupert/mediaproof/internal/session"
)

type planResponse struct {
	ID             domain.PlanID      `json:"id"`
	DailyQuota     *int               `json:"daily_quota"` // null when unlimited
	AllowedKinds   []domain.MediaKind `json:"allowed_kinds"`
	Latency        string             `json:"latency"`
	HistoryEnabled bool               `json:"history_enabled"`
}

type plansResponse struct {
	Plans []planResponse `json:"plans"`
}

type reportResponse struct {
	RiskScore  float64         `json:"risk_score"`
	TrustScore int             `json:"trust_score"`
	Summary    string          `json:"summary"`
	Details    json.RawMessage `json:"details,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Retryable marks analysis failures worth submitting again.
	Retryable bool `json:"retryable,omitempty"`
}

type attemptResponse struct {
	ID          string          `json:"id,omitempty"`
	State       string          `json:"state"`
	Filename    string          `json:"filename,omitempty"`
	MediaKind   string          `json:"media_kind,omitempty"`
	Locator     string          `json:"locator,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	ReadyAt     *time.Time      `json:"ready_at,omitempty"`
	Report      *reportResponse `json:"report,omitempty"`
	Error       *errorBody      `json:"error,omitempty"`
	Warnings    []errorBody     `json:"warnings,omitempty"`
}

type stateResponse struct {
	Identity         domain.Identity `json:"identity"`
	Plan             planResponse    `json:"plan"`
	CreditsRemaining int             `json:"credits_remaining"`
	Unlimited        bool            `json:"unlimited"`
	LastResetDate    domain.Date     `json:"last_reset_date"`
	Attempt          attemptResponse `json:"attempt"`
}

type recordResponse struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	RiskScore  int             `json:"risk_score"`
	TrustScore int             `json:"trust_score"`
	RecordedAt time.Time       `json:"recorded_at"`
	Report     json.RawMessage `json:"report,omitempty"`
}

type historyResponse struct {
	Records []recordResponse `json:"records"`
}

func newPlanResponse(p domain.Plan) planResponse {
	resp := planResponse{
		ID:             p.ID,
		AllowedKinds:   p.AllowedKinds.Sorted(),
		Latency:        p.Latency.String(),
		HistoryEnabled: p.HistoryEnabled,
	}
	if !p.IsUnlimited() {
		quota := p.DailyQuota
		resp.DailyQuota = &quota
	}
	return resp
}

func newStateResponse(s session.State) stateResponse {
	return stateResponse{
		Identity:         s.Snapshot.Identity,
		Plan:             newPlanResponse(s.Plan),
		CreditsRemaining: s.Snapshot.CreditsRemaining,
		Unlimited:        s.Plan.IsUnlimited(),
		LastResetDate:    s.Snapshot.LastResetDate,
		Attempt:          newAttemptResponse(s.Attempt),
	}
}

func newAttemptResponse(v orchestrator.View) attemptResponse {
	resp := attemptResponse{
		State:     v.State.String(),
		Filename:  v.Filename,
		MediaKind: v.MediaKind.String(),
	}
	if v.State == domain.AttemptIdle {
		return resp
	}

	resp.ID = v.AttemptID.String()
	resp.Locator = v.Locator
	if !v.SubmittedAt.IsZero() {
		resp.SubmittedAt = &v.SubmittedAt
	}
	if !v.ReadyAt.IsZero() {
		resp.ReadyAt = &v.ReadyAt
	}
	if v.Report != nil {
		resp.Report = &reportResponse{
			RiskScore:  v.Report.RiskScore,
			TrustScore: v.Report.TrustScore(),
			Summary:    v.Report.Summary,
			Details:    v.Report.Raw,
		}
	}
	if v.Err != nil {
		resp.Error = &errorBody{
			Code:      domain.ErrorCode(v.Err),
			Message:   domain.ErrorMessage(v.Err),
			Retryable: analysis.IsTransient(v.Err),
		}
	}
	for _, w := range v.Warnings {
		resp.Warnings = append(resp.Warnings, errorBody{Code: domain.ErrorCode(w), Message: domain.ErrorMessage(w)})
	}
	return resp
}

func newRecordResponse(r domain.Record) recordResponse {
	return recordResponse{
		ID:         r.ID.String(),
		Label:      r.Label,
		RiskScore:  r.RiskScore,
		TrustScore: 100 - r.RiskScore,
		RecordedAt: r.RecordedAt,
		Report:     r.Report,
	}
}
