// Package remote implements analysis.Service over the orchestrator HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/mediaproof/internal/analysis"
	"github.com/DukeRupert/mediaproof/internal/domain"
)

const (
	// DefaultTimeout bounds a single analysis request.
	DefaultTimeout = 2 * time.Minute

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 4 << 20
)

// Config contains configuration for the remote client.
type Config struct {
	URL     string        // Analysis endpoint, POSTed to directly
	Timeout time.Duration // 0 selects DefaultTimeout
}

// Client calls the remote analysis endpoint.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a remote analysis client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("analysis URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type analyzeRequest struct {
	MediaURL string `json:"mediaUrl"`
	Type     string `json:"type"`
}

type analyzeResponse struct {
	Risk *struct {
		GlobalScore      *float64 `json:"globalScore"`
		ExecutiveSummary string   `json:"executiveSummary"`
	} `json:"risk"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Analyze submits locator for analysis.
func (c *Client) Analyze(ctx context.Context, locator string, kind domain.MediaKind) (*analysis.Report, error) {
	body, err := json.Marshal(analyzeRequest{MediaURL: locator, Type: kind.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, analysis.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", analysis.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug("analysis response received",
		"status", resp.StatusCode,
		"kind", kind,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, raw)
	}

	return parseReport(raw)
}

// parseReport extracts the risk block and keeps the whole body as Raw.
func parseReport(raw []byte) (*analysis.Report, error) {
	var parsed analyzeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrBadReport, err)
	}
	if parsed.Risk == nil || parsed.Risk.GlobalScore == nil {
		return nil, fmt.Errorf("%w: missing risk.globalScore", analysis.ErrBadReport)
	}

	report := &analysis.Report{
		RiskScore: *parsed.Risk.GlobalScore,
		Summary:   parsed.Risk.ExecutiveSummary,
		Raw:       json.RawMessage(raw),
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}
	return report, nil
}

// mapHTTPError maps HTTP status codes to analysis errors.
func mapHTTPError(statusCode int, body []byte) error {
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return analysis.ErrUnauthorized
	case http.StatusTooManyRequests:
		return analysis.ErrRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return analysis.ErrTimeout
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusUnsupportedMediaType:
		return fmt.Errorf("%w: %s", analysis.ErrInvalidMedia, msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return analysis.ErrUnavailable
	default:
		return fmt.Errorf("analysis API error (status %d): %s", statusCode, msg)
	}
}
