// Package domain contains core business types and rules.
//
// This file defines the plan catalog: the fixed set of subscription plans
// and the policy each one grants.
package domain

import (
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Media Kinds
// =============================================================================

// MediaKind is the category of media submitted for analysis.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// String returns the string representation of the kind.
func (k MediaKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is a recognized value.
func (k MediaKind) IsValid() bool {
	switch k {
	case MediaImage, MediaAudio, MediaVideo:
		return true
	}
	return false
}

// MediaKindOf derives the media kind from a declared MIME type.
// Anything that is neither image nor audio is treated as video.
func MediaKindOf(contentType string) MediaKind {
	base := strings.TrimSpace(strings.ToLower(strings.Split(contentType, ";")[0]))
	switch {
	case strings.HasPrefix(base, "image/"):
		return MediaImage
	case strings.HasPrefix(base, "audio/"):
		return MediaAudio
	default:
		return MediaVideo
	}
}

// MediaKinds is a set of media kinds.
type MediaKinds map[MediaKind]bool

// KindsOf builds a MediaKinds set.
func KindsOf(kinds ...MediaKind) MediaKinds {
	set := make(MediaKinds, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// Has reports whether the set contains k.
func (s MediaKinds) Has(k MediaKind) bool {
	return s[k]
}

// Sorted returns the kinds in lexical order.
func (s MediaKinds) Sorted() []MediaKind {
	out := make([]MediaKind, 0, len(s))
	for k, ok := range s {
		if ok {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// Latency Classes
// =============================================================================

// LatencyClass orders how quickly a plan's results are presented.
// Lower values are faster.
type LatencyClass int

const (
	LatencyInstant LatencyClass = iota
	LatencyExpedited
	LatencyStandard
)

// Delay returns the display delay applied after a result is available.
func (c LatencyClass) Delay() time.Duration {
	switch c {
	case LatencyInstant:
		return 0
	case LatencyExpedited:
		return 750 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}

// String returns the class name.
func (c LatencyClass) String() string {
	switch c {
	case LatencyInstant:
		return "instant"
	case LatencyExpedited:
		return "expedited"
	default:
		return "standard"
	}
}

// =============================================================================
// Plans
// =============================================================================

// PlanID identifies a plan in the catalog.
type PlanID string

const (
	PlanFree         PlanID = "free"
	PlanIndividual   PlanID = "individual"
	PlanProfessional PlanID = "professional"
	PlanUnlimited    PlanID = "unlimited"
)

// Unlimited is the DailyQuota sentinel for plans without a daily cap.
const Unlimited = -1

// Plan is the immutable policy granted by a subscription tier.
type Plan struct {
	ID             PlanID
	DailyQuota     int // Unlimited (-1) or a non-negative count
	AllowedKinds   MediaKinds
	Latency        LatencyClass
	HistoryEnabled bool
}

// IsUnlimited returns true if the plan has no daily cap.
func (p Plan) IsUnlimited() bool {
	return p.DailyQuota == Unlimited
}

// Allows reports whether the plan admits the media kind.
func (p Plan) Allows(k MediaKind) bool {
	return p.AllowedKinds.Has(k)
}

// Catalog maps plan ids to their policies. It is built once and never mutated.
type Catalog struct {
	plans map[PlanID]Plan
}

// NewCatalog builds a catalog from plans. Later duplicates win.
func NewCatalog(plans ...Plan) Catalog {
	m := make(map[PlanID]Plan, len(plans))
	for _, p := range plans {
		m[p.ID] = p
	}
	return Catalog{plans: m}
}

// DefaultCatalog returns the built-in plans.
func DefaultCatalog() Catalog {
	return NewCatalog(
		Plan{
			ID:           PlanFree,
			DailyQuota:   2,
			AllowedKinds: KindsOf(MediaImage),
			Latency:      LatencyStandard,
		},
		Plan{
			ID:             PlanIndividual,
			DailyQuota:     20,
			AllowedKinds:   KindsOf(MediaImage, MediaAudio),
			Latency:        LatencyExpedited,
			HistoryEnabled: true,
		},
		Plan{
			ID:             PlanProfessional,
			DailyQuota:     50,
			AllowedKinds:   KindsOf(MediaImage, MediaAudio, MediaVideo),
			Latency:        LatencyExpedited,
			HistoryEnabled: true,
		},
		Plan{
			ID:             PlanUnlimited,
			DailyQuota:     Unlimited,
			AllowedKinds:   KindsOf(MediaImage, MediaAudio, MediaVideo),
			Latency:        LatencyInstant,
			HistoryEnabled: true,
		},
	)
}

// Plan looks up a plan by id.
func (c Catalog) Plan(id PlanID) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, UnknownPlan("catalog.plan", id)
	}
	return p, nil
}

// Plans returns every plan ordered by id.
func (c Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
