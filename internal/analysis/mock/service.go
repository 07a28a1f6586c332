// Package mock provides an in-process analysis.Service for development and
// tests.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DukeRupert/mediaproof/internal/analysis"
	"github.com/DukeRupert/mediaproof/internal/domain"
)

// Service is a mock analysis service.
type Service struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	Response *analysis.Report
	Err      error

	// Block, when set, is received from before answering. Tests use it to
	// hold an attempt in the Submitting state.
	Block chan struct{}

	// Call tracking for testing
	Calls    int
	Locators []string
}

// New creates a mock analysis service.
func New(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// Analyze returns the configured response or error, or a canned low-risk
// report.
func (s *Service) Analyze(ctx context.Context, locator string, kind domain.MediaKind) (*analysis.Report, error) {
	s.mu.Lock()
	s.Calls++
	s.Locators = append(s.Locators, locator)
	block, resp, err := s.Block, s.Response, s.Err
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}

	raw, _ := json.Marshal(map[string]any{
		"risk": map[string]any{
			"globalScore":      12,
			"executiveSummary": fmt.Sprintf("No manipulation detected in %s.", kind),
		},
		"details": map[string]any{"mock": true},
	})

	s.logger.Debug("mock analysis", "locator", locator, "kind", kind)

	return &analysis.Report{
		RiskScore: 12,
		Summary:   fmt.Sprintf("No manipulation detected in %s.", kind),
		Raw:       raw,
	}, nil
}

// CallCount returns the number of Analyze calls so far.
func (s *Service) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}
