package reservation

import (
	"time"

	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// Period is a half-open reservation window [Start, End)
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Resolution is the precision periods are stored with
const Resolution = time.Millisecond

// NewPeriod builds a validated period, normalized to UTC and truncated to
// Resolution
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: start.UTC().Truncate(Resolution), End: end.UTC().Truncate(Resolution)}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate requires both bounds and Start < End
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return &types.ValidationError{Field: "reservationPeriod", Reason: "start and end are required"}
	}
	if !p.Start.Before(p.End) {
		return &types.ValidationError{Field: "reservationPeriod", Reason: "start must be before end"}
	}
	return nil
}

// Overlaps reports whether p and o share an instant. Touching endpoints do not overlap.
func (p Period) Overlaps(o Period) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

// Duration returns End - Start
func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// HasOverlap reports whether candidate overlaps any of existing.
// The caller scopes existing to the active requests of one listing.
func HasOverlap(candidate Period, existing []Period) bool {
	for _, p := range existing {
		if candidate.Overlaps(p) {
			return true
		}
	}
	return false
}
