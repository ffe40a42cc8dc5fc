package link

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"proximity-guard/internal/geo"
	telemetry "proximity-guard/internal/telemetry/domain"
)

// Mode-change failures surfaced by SetMode.
var (
	// ErrModeRejected indicates the vehicle explicitly refused the mode change.
	ErrModeRejected = errors.New("link: mode change rejected")

	// ErrClosed indicates the connection has been closed.
	ErrClosed = errors.New("link: connection closed")
)

// Conn is one live connection to a vehicle: a source of position
// reports and a sink for mode-change requests.
type Conn interface {
	// ReadSample blocks until the next position report or ctx expires.
	ReadSample(ctx context.Context) (telemetry.PositionSample, error)

	// SetMode requests a flight-mode change and waits for the vehicle's
	// acknowledgement. Returns ErrModeRejected when the vehicle refuses.
	SetMode(ctx context.Context, modeCode int) error

	Close() error
}

// Dialer opens a connection for a parsed descriptor.
type Dialer func(ctx context.Context, d Descriptor) (Conn, error)

// Dial opens a connection for the descriptor using the scheme's
// transport. It is the default Dialer.
func Dial(ctx context.Context, d Descriptor) (Conn, error) {
	switch d.Scheme {
	case "tcp", "udp":
		var nd net.Dialer
		raw, err := nd.DialContext(ctx, d.Scheme, d.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", telemetry.ErrConnection, d, err)
		}
		return newWireConn(raw), nil
	case "sim":
		return newSimConn(d.SimStart), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrBadDescriptor, d.Scheme)
	}
}

// Wire messages are newline-delimited JSON in both directions.
type wireMessage struct {
	Type      string  `json:"type"`
	VehicleID string  `json:"vehicle_id,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	Alt       float64 `json:"alt,omitempty"`
	TS        string  `json:"ts,omitempty"`
	Seq       uint64  `json:"seq,omitempty"`
	Mode      int     `json:"mode,omitempty"`
	OK        bool    `json:"ok,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// wireConn speaks the JSON line protocol over a stream or datagram
// transport. A single read pump demultiplexes position reports and
// mode acknowledgements so reads and mode changes can proceed
// concurrently on one connection.
type wireConn struct {
	raw net.Conn

	samples chan telemetry.PositionSample
	acks    chan wireMessage

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	readErr error
}

func newWireConn(raw net.Conn) *wireConn {
	c := &wireConn{
		raw:     raw,
		samples: make(chan telemetry.PositionSample, 16),
		acks:    make(chan wireMessage, 1),
		done:    make(chan struct{}),
	}
	go c.readPump()
	return c
}

func (c *wireConn) readPump() {
	scanner := bufio.NewScanner(c.raw)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		var msg wireMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue // tolerate garbage lines
		}
		switch msg.Type {
		case "position":
			sample, err := sampleFromWire(msg)
			if err != nil {
				continue
			}
			select {
			case c.samples <- sample:
			default:
				// Reader is behind; drop the oldest so the freshest wins.
				select {
				case <-c.samples:
				default:
				}
				select {
				case c.samples <- sample:
				default:
				}
			}
		case "mode_ack":
			select {
			case c.acks <- msg:
			default:
			}
		}
	}
	err := scanner.Err()
	if err == nil {
		err = ErrClosed
	}
	c.mu.Lock()
	c.readErr = fmt.Errorf("%w: %v", telemetry.ErrConnection, err)
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func sampleFromWire(msg wireMessage) (telemetry.PositionSample, error) {
	capturedAt, err := time.Parse(time.RFC3339Nano, msg.TS)
	if err != nil {
		capturedAt = time.Now().UTC()
	}
	sample := telemetry.PositionSample{
		VehicleID:  msg.VehicleID,
		Position:   geo.Point{LatitudeDeg: msg.Lat, LongitudeDeg: msg.Lon, AltitudeM: msg.Alt},
		CapturedAt: capturedAt,
		Seq:        msg.Seq,
	}
	if err := sample.Validate(); err != nil {
		return telemetry.PositionSample{}, err
	}
	return sample, nil
}

// ReadSample returns the next position report from the pump.
func (c *wireConn) ReadSample(ctx context.Context) (telemetry.PositionSample, error) {
	select {
	case sample := <-c.samples:
		return sample, nil
	case <-c.done:
		return telemetry.PositionSample{}, c.failure()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return telemetry.PositionSample{}, telemetry.ErrTimeout
		}
		return telemetry.PositionSample{}, ctx.Err()
	}
}

// SetMode sends a set_mode request and waits for the matching ack.
func (c *wireConn) SetMode(ctx context.Context, modeCode int) error {
	payload, err := json.Marshal(wireMessage{Type: "set_mode", Mode: modeCode})
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.raw.SetWriteDeadline(deadline)
	}
	_, err = c.raw.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: write: %v", telemetry.ErrConnection, err)
	}

	select {
	case ack := <-c.acks:
		if !ack.OK {
			if ack.Error != "" {
				return fmt.Errorf("%w: %s", ErrModeRejected, ack.Error)
			}
			return ErrModeRejected
		}
		return nil
	case <-c.done:
		return c.failure()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return telemetry.ErrTimeout
		}
		return ctx.Err()
	}
}

func (c *wireConn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return fmt.Errorf("%w: %v", telemetry.ErrConnection, ErrClosed)
}

func (c *wireConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.raw.Close()
}
