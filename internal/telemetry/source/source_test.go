package source

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"proximity-guard/internal/geo"
	telemetry "proximity-guard/internal/telemetry/domain"
	"proximity-guard/internal/telemetry/link"
)

// fakeConn is a scripted link: ReadSample pops queued samples, then
// blocks until ctx expires.
type fakeConn struct {
	mu      sync.Mutex
	samples []telemetry.PositionSample
	modeErr error
	modes   []int
}

func (c *fakeConn) ReadSample(ctx context.Context) (telemetry.PositionSample, error) {
	c.mu.Lock()
	if len(c.samples) > 0 {
		sample := c.samples[0]
		c.samples = c.samples[1:]
		c.mu.Unlock()
		return sample, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return telemetry.PositionSample{}, telemetry.ErrTimeout
	}
	return telemetry.PositionSample{}, ctx.Err()
}

func (c *fakeConn) SetMode(_ context.Context, modeCode int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = append(c.modes, modeCode)
	return c.modeErr
}

func (c *fakeConn) Close() error { return nil }

func sampleAt(id string, capturedAt time.Time) telemetry.PositionSample {
	return telemetry.PositionSample{
		VehicleID:  id,
		Position:   geo.Point{LatitudeDeg: 47.1, LongitudeDeg: 8.2, AltitudeM: 100},
		CapturedAt: capturedAt,
		Seq:        1,
	}
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func mustDescriptor(t *testing.T, raw string) link.Descriptor {
	t.Helper()
	d, err := link.ParseDescriptor(raw)
	if err != nil {
		t.Fatalf("parse descriptor: %v", err)
	}
	return d
}

func startSource(t *testing.T, dial link.Dialer, cfg Config) *Source {
	t.Helper()
	src, err := New(mustDescriptor(t, "udp:127.0.0.1:14550"), dial, cfg, quietLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	src.Start(context.Background())
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSource_LatestReturnsFreshSample(t *testing.T) {
	conn := &fakeConn{samples: []telemetry.PositionSample{sampleAt("veh-1", time.Now().UTC())}}
	dial := func(ctx context.Context, d link.Descriptor) (link.Conn, error) { return conn, nil }

	src := startSource(t, dial, Config{Staleness: time.Second, ReadTimeout: 50 * time.Millisecond})

	waitFor(t, time.Second, func() bool {
		_, err := src.Latest(context.Background())
		return err == nil
	})
	sample, err := src.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if sample.VehicleID != "veh-1" {
		t.Fatalf("unexpected sample: %+v", sample)
	}
	if src.VehicleID() != "veh-1" {
		t.Fatalf("vehicle id = %q", src.VehicleID())
	}
}

func TestSource_LatestMarksStaleSamples(t *testing.T) {
	old := time.Now().UTC().Add(-time.Minute)
	conn := &fakeConn{samples: []telemetry.PositionSample{sampleAt("veh-1", old)}}
	dial := func(ctx context.Context, d link.Descriptor) (link.Conn, error) { return conn, nil }

	src := startSource(t, dial, Config{Staleness: 100 * time.Millisecond, ReadTimeout: 50 * time.Millisecond})

	waitFor(t, time.Second, func() bool {
		_, err := src.Latest(context.Background())
		return errors.Is(err, telemetry.ErrStale)
	})
	sample, err := src.Latest(context.Background())
	if !errors.Is(err, telemetry.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if sample.VehicleID != "veh-1" {
		t.Fatal("stale result should still carry the sample for diagnostics")
	}
}

func TestSource_UnavailableBeforeFirstSample(t *testing.T) {
	conn := &fakeConn{}
	dial := func(ctx context.Context, d link.Descriptor) (link.Conn, error) { return conn, nil }

	src := startSource(t, dial, Config{ReadTimeout: 20 * time.Millisecond})

	_, err := src.Latest(context.Background())
	if !errors.Is(err, telemetry.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSource_UnavailableWhileDialFails(t *testing.T) {
	dial := func(ctx context.Context, d link.Descriptor) (link.Conn, error) {
		return nil, telemetry.ErrConnection
	}

	src := startSource(t, dial, Config{BackoffMin: 10 * time.Millisecond, BackoffMax: 20 * time.Millisecond})

	// Latest must return immediately even though the dialer is in a
	// reconnect backoff loop.
	start := time.Now()
	_, err := src.Latest(context.Background())
	if !errors.Is(err, telemetry.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("Latest blocked for %s", elapsed)
	}
}

func TestSource_SetModeRequiresLiveLink(t *testing.T) {
	dial := func(ctx context.Context, d link.Descriptor) (link.Conn, error) {
		return nil, telemetry.ErrConnection
	}
	src := startSource(t, dial, Config{BackoffMin: 10 * time.Millisecond})

	err := src.SetMode(context.Background(), 5)
	if !errors.Is(err, telemetry.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSource_SetModeForwardsToLink(t *testing.T) {
	conn := &fakeConn{samples: []telemetry.PositionSample{sampleAt("veh-1", time.Now().UTC())}}
	dial := func(ctx context.Context, d link.Descriptor) (link.Conn, error) { return conn, nil }
	src := startSource(t, dial, Config{ReadTimeout: 50 * time.Millisecond})

	waitFor(t, time.Second, func() bool {
		_, err := src.Latest(context.Background())
		return err == nil
	})
	if err := src.SetMode(context.Background(), 5); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.modes) != 1 || conn.modes[0] != 5 {
		t.Fatalf("modes = %v", conn.modes)
	}
}
