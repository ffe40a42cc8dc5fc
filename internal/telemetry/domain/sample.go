package telemetry

import (
	"errors"
	"fmt"
	"time"

	"proximity-guard/internal/geo"
)

// Transport and freshness failures surfaced by telemetry sources.
var (
	// ErrUnavailable indicates no valid sample is available, typically
	// because the link is down or a reconnection attempt is outstanding.
	ErrUnavailable = errors.New("telemetry: unavailable")

	// ErrStale indicates the most recent cached sample is older than the
	// configured staleness window. Stale data is never served as current.
	ErrStale = errors.New("telemetry: stale sample")

	// ErrTimeout indicates a read exceeded its deadline.
	ErrTimeout = errors.New("telemetry: timeout")

	// ErrConnection indicates a transport-level failure to reach the vehicle.
	ErrConnection = errors.New("telemetry: connection failure")
)

// PositionSample is one position/altitude report from a vehicle.
// Samples are immutable once created; a later sample from the same
// source supersedes an earlier one.
type PositionSample struct {
	VehicleID  string    `json:"vehicle_id"`
	Position   geo.Point `json:"position"`
	CapturedAt time.Time `json:"captured_at"`
	Seq        uint64    `json:"seq"`
}

// Validate checks sample invariants.
func (s PositionSample) Validate() error {
	if s.VehicleID == "" {
		return errors.New("telemetry: empty vehicle id")
	}
	if s.CapturedAt.IsZero() {
		return errors.New("telemetry: zero capture time")
	}
	if err := s.Position.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Age returns how old the sample is relative to now.
func (s PositionSample) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}
