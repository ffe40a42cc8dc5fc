package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	telemetry "proximity-guard/internal/telemetry/domain"
	"proximity-guard/internal/telemetry/link"
)

// Config tunes a source's freshness and reconnection behavior.
type Config struct {
	// Staleness is the maximum sample age still trusted as current.
	Staleness time.Duration

	// ReadTimeout bounds a single read on the link.
	ReadTimeout time.Duration

	// BackoffMin and BackoffMax bound the reconnect backoff. Backoff
	// doubles on each failed attempt and is capped at BackoffMax.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Staleness <= 0 {
		c.Staleness = 3 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	return c
}

// Source owns one vehicle link. A background reader keeps the latest
// valid sample cached; Latest never blocks on the link and never blocks
// on reconnect backoff.
type Source struct {
	descriptor link.Descriptor
	dial       link.Dialer
	cfg        Config
	logger     *log.Logger

	mu        sync.Mutex
	conn      link.Conn
	latest    telemetry.PositionSample
	hasSample bool
	connected bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a source for the descriptor. The dialer may be nil, in
// which case link.Dial is used.
func New(descriptor link.Descriptor, dial link.Dialer, cfg Config, logger *log.Logger) (*Source, error) {
	if descriptor.Scheme == "" {
		return nil, errors.New("source: empty descriptor")
	}
	if dial == nil {
		dial = link.Dial
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Source{
		descriptor: descriptor,
		dial:       dial,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// Start launches the background reader. It returns immediately.
func (s *Source) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Close stops the background reader and closes the link.
func (s *Source) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	backoff := s.cfg.BackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.dial(ctx, s.descriptor)
		if err != nil {
			s.logger.Printf("telemetry source %s: connect failed: %v", s.descriptor, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > s.cfg.BackoffMax {
				backoff = s.cfg.BackoffMax
			}
			continue
		}
		backoff = s.cfg.BackoffMin
		s.setConn(conn)
		s.readLoop(ctx, conn)
		s.clearConn(conn)
		_ = conn.Close()
	}
}

func (s *Source) readLoop(ctx context.Context, conn link.Conn) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		sample, err := conn.ReadSample(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, telemetry.ErrTimeout) {
				// No fresh report inside the read budget; the cached
				// sample simply ages toward staleness. Keep reading.
				continue
			}
			s.logger.Printf("telemetry source %s: read failed: %v", s.descriptor, err)
			return
		}
		s.mu.Lock()
		s.latest = sample
		s.hasSample = true
		s.mu.Unlock()
	}
}

func (s *Source) setConn(conn link.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
}

func (s *Source) clearConn(conn link.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connected = false
	}
	s.mu.Unlock()
}

// Latest returns the freshest cached sample. It never blocks on the
// link: Unavailable while no connection is live or no sample has ever
// arrived, Stale when the cached sample is older than the staleness
// window. Stale data is reported as such, never served as current.
func (s *Source) Latest(ctx context.Context) (telemetry.PositionSample, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.PositionSample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return telemetry.PositionSample{}, fmt.Errorf("%w: %s reconnecting", telemetry.ErrUnavailable, s.descriptor)
	}
	if !s.hasSample {
		return telemetry.PositionSample{}, fmt.Errorf("%w: %s no sample yet", telemetry.ErrUnavailable, s.descriptor)
	}
	if s.latest.Age(time.Now()) > s.cfg.Staleness {
		return s.latest, fmt.Errorf("%w: %s sample age %s", telemetry.ErrStale, s.descriptor, s.latest.Age(time.Now()).Round(time.Millisecond))
	}
	return s.latest, nil
}

// SetMode forwards a mode-change request to the live link. Returns
// Unavailable when no connection is live.
func (s *Source) SetMode(ctx context.Context, modeCode int) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %s no live link", telemetry.ErrUnavailable, s.descriptor)
	}
	return conn.SetMode(ctx, modeCode)
}

// VehicleID reports the vehicle id learned from telemetry, or "" when
// no sample has arrived yet.
func (s *Source) VehicleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSample {
		return ""
	}
	return s.latest.VehicleID
}

// Descriptor returns the parsed descriptor the source was built from.
func (s *Source) Descriptor() link.Descriptor { return s.descriptor }

// Label identifies the source in logs, metrics, and cycle errors.
func (s *Source) Label() string { return s.descriptor.String() }
