package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"proximity-guard/internal/geo"
	telemetry "proximity-guard/internal/telemetry/domain"
)

// simConn is an in-process scripted vehicle. It reports a fixed
// position at a steady cadence and acknowledges every mode change,
// which is enough to exercise the full pipeline without hardware.
type simConn struct {
	params SimParams
	period time.Duration

	mu     sync.Mutex
	seq    uint64
	mode   int
	closed bool
}

func newSimConn(params SimParams) *simConn {
	return &simConn{params: params, period: 100 * time.Millisecond}
}

func (c *simConn) ReadSample(ctx context.Context) (telemetry.PositionSample, error) {
	select {
	case <-time.After(c.period):
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return telemetry.PositionSample{}, telemetry.ErrTimeout
		}
		return telemetry.PositionSample{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return telemetry.PositionSample{}, ErrClosed
	}
	c.seq++
	return telemetry.PositionSample{
		VehicleID:  c.params.VehicleID,
		Position:   geo.Point{LatitudeDeg: c.params.Lat, LongitudeDeg: c.params.Lon, AltitudeM: c.params.Alt},
		CapturedAt: time.Now().UTC(),
		Seq:        c.seq,
	}, nil
}

func (c *simConn) SetMode(_ context.Context, modeCode int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.mode = modeCode
	return nil
}

// Mode returns the last mode code accepted by the sim vehicle.
func (c *simConn) Mode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *simConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("link: sim already closed")
	}
	c.closed = true
	return nil
}
