// Package handler implements the JSON HTTP API over session commands.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/mediaproof/internal/auth"
	"github.com/DukeRupert/mediaproof/internal/domain"
	"github.com/DukeRupert/mediaproof/internal/orchestrator"
	"github.com/DukeRupert/mediaproof/internal/session"
	"github.com/DukeRupert/mediaproof/internal/storage"
)

// multipartOverhead is allowed on top of the file size for form boundaries
// and headers.
const multipartOverhead = 1 << 20

// API serves the session commands.
type API struct {
	sessions      *session.Manager
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPI creates the API handler set. maxUploadSize of 0 disables the limit.
func NewAPI(sessions *session.Manager, maxUploadSize int64, logger *slog.Logger) *API {
	return &API{
		sessions:      sessions,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// =============================================================================
// Sessions
// =============================================================================

type signInRequest struct {
	Identity string `json:"identity"`
}

// SignIn handles POST /v1/sessions.
func (h *API) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	_, state, err := h.sessions.SignIn(r.Context(), req.Identity)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newStateResponse(state))
}

// GetState handles GET /v1/sessions/{identity}.
func (h *API) GetState(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromRequest(r)

	state, err := sess.State(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newStateResponse(state))
}

type changePlanRequest struct {
	Plan string `json:"plan"`
}

// ChangePlan handles PUT /v1/sessions/{identity}/plan.
func (h *API) ChangePlan(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromRequest(r)

	var req changePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	state, err := sess.ChangePlan(r.Context(), domain.PlanID(req.Plan))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newStateResponse(state))
}

type grantCreditRequest struct {
	Amount int `json:"amount"`
}

// GrantCredit handles POST /v1/sessions/{identity}/credits.
func (h *API) GrantCredit(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromRequest(r)

	var req grantCreditRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	state, err := sess.GrantCredit(r.Context(), req.Amount)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newStateResponse(state))
}

// =============================================================================
// Submissions
// =============================================================================

// Submit handles POST /v1/sessions/{identity}/submissions.
//
// The body is multipart/form-data with the media in the "file" field. With
// ?wait=true the response is held until the result may be displayed.
func (h *API) Submit(w http.ResponseWriter, r *http.Request) {
	const op = "handler.submit"
	sess := auth.GetSessionFromRequest(r)

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "file exceeds the maximum upload size"))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "expected a multipart form with a file field"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "file field is required"))
		return
	}
	defer file.Close()

	if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "file exceeds the maximum upload size"))
		return
	}

	contentType := storage.DetectContentType(header.Header.Get("Content-Type"), header.Filename, nil)
	if contentType == "application/octet-stream" {
		// Sniff, then rewind for the upload.
		contentType = storage.DetectContentType("", "", file)
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to read upload"))
			return
		}
	}

	state, err := sess.Submit(r.Context(), orchestrator.File{
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if wantsWait(r) {
		if waited, err := ready(r.Context(), sess); err == nil {
			state = waited
		}
	}

	WriteJSON(w, http.StatusOK, newStateResponse(state))
}

// GetAttempt handles GET /v1/sessions/{identity}/submissions/current.
// With ?wait=true it blocks until any display delay has elapsed.
func (h *API) GetAttempt(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromRequest(r)

	var (
		state session.State
		err   error
	)
	if wantsWait(r) {
		state, err = ready(r.Context(), sess)
	} else {
		state, err = sess.State(r.Context())
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newAttemptResponse(state.Attempt))
}

// ResetAttempt handles DELETE /v1/sessions/{identity}/submissions/current.
func (h *API) ResetAttempt(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromRequest(r)

	state, err := sess.ResetToIdle(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newStateResponse(state))
}

// ListHistory handles GET /v1/sessions/{identity}/history.
func (h *API) ListHistory(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSessionFromRequest(r)

	records, err := sess.ListHistory(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := historyResponse{Records: make([]recordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, newRecordResponse(rec))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Catalog and health
// =============================================================================

// ListPlans handles GET /v1/plans.
func (h *API) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.sessions.Rules().Catalog().Plans()

	resp := plansResponse{Plans: make([]planResponse, 0, len(plans))}
	for _, p := range plans {
		resp.Plans = append(resp.Plans, newPlanResponse(p))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// Helpers
// =============================================================================

// decodeJSON reads a small JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("handler.decode", "request body must be valid JSON")
	}
	return nil
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

// waitTimeout bounds how long ?wait=true may hold a response.
const waitTimeout = 10 * time.Second

func ready(ctx context.Context, sess *session.Session) (session.State, error) {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	return sess.Ready(ctx)
}
