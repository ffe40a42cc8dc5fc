package monitor

import (
	"errors"
	"fmt"
	"time"
)

// Status is the proximity assessment for a vehicle pair.
type Status string

const (
	// StatusSafe: neither separation is at or below its threshold.
	StatusSafe Status = "SAFE"

	// StatusClose: exactly one separation is at or below its threshold.
	StatusClose Status = "CLOSE"

	// StatusDanger: both separations are at or below their thresholds.
	StatusDanger Status = "DANGER"

	// StatusUnavailable: the cycle could not produce a trustworthy
	// reading. Never conflated with SAFE; stale or missing data fails
	// closed.
	StatusUnavailable Status = "UNAVAILABLE"
)

// Thresholds are the separation limits for one monitoring session.
// Immutable for the session's lifetime.
type Thresholds struct {
	HorizontalM float64 `json:"horizontal_m"`
	VerticalM   float64 `json:"vertical_m"`
}

// Validate rejects non-positive thresholds.
func (t Thresholds) Validate() error {
	if t.HorizontalM <= 0 {
		return fmt.Errorf("%w: horizontal threshold %v", ErrInvalidThresholds, t.HorizontalM)
	}
	if t.VerticalM <= 0 {
		return fmt.Errorf("%w: vertical threshold %v", ErrInvalidThresholds, t.VerticalM)
	}
	return nil
}

// ErrInvalidThresholds indicates a non-positive threshold.
var ErrInvalidThresholds = errors.New("monitor: thresholds must be positive")

// SeparationReading is the separation between the two vehicles
// computed from the latest pair of samples. Derived per cycle and never
// carried across cycles.
type SeparationReading struct {
	HorizontalM float64   `json:"horizontal_distance_m"`
	VerticalM   float64   `json:"vertical_distance_m"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Classify maps a reading to SAFE, CLOSE, or DANGER. Thresholds are
// breached inclusively: a separation exactly at its limit counts.
func Classify(reading SeparationReading, thresholds Thresholds) Status {
	horizontal := reading.HorizontalM <= thresholds.HorizontalM
	vertical := reading.VerticalM <= thresholds.VerticalM
	switch {
	case horizontal && vertical:
		return StatusDanger
	case horizontal || vertical:
		return StatusClose
	default:
		return StatusSafe
	}
}
