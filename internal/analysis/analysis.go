// Package analysis defines the contract with the forensic analysis service.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/DukeRupert/mediaproof/internal/domain"
)

// Service analyzes stored media. Implementations make exactly one call per
// Analyze and never retry.
type Service interface {
	Analyze(ctx context.Context, locator string, kind domain.MediaKind) (*Report, error)
}

// Report is the outcome of one analysis. Raw is passed through unchanged so
// a caller can render the provider's full breakdown.
type Report struct {
	RiskScore float64         // 0-100, higher means more likely manipulated
	Summary   string          // Executive summary
	Raw       json.RawMessage // Full provider response
}

// TrustScore is the complement of the risk score.
func (r *Report) TrustScore() int {
	return 100 - int(math.Round(r.RiskScore))
}

// Validate checks the invariants every provider must honor.
func (r *Report) Validate() error {
	if math.IsNaN(r.RiskScore) || r.RiskScore < 0 || r.RiskScore > 100 {
		return fmt.Errorf("%w: risk score %v outside [0,100]", ErrBadReport, r.RiskScore)
	}
	return nil
}

var (
	// ErrRateLimit indicates the provider is throttling requests.
	ErrRateLimit = errors.New("analysis provider rate limit exceeded")

	// ErrInvalidMedia indicates the provider could not process the media.
	ErrInvalidMedia = errors.New("media rejected by analysis provider")

	// ErrTimeout indicates the request timed out.
	ErrTimeout = errors.New("analysis request timed out")

	// ErrUnavailable indicates the provider is temporarily unavailable.
	ErrUnavailable = errors.New("analysis service temporarily unavailable")

	// ErrUnauthorized indicates invalid provider credentials.
	ErrUnauthorized = errors.New("analysis provider authentication failed")

	// ErrBadReport indicates a response that could not be interpreted.
	ErrBadReport = errors.New("malformed analysis report")
)

// IsTransient returns true for errors a user may reasonably try again after.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable)
}
