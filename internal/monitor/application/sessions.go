package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	monitor "proximity-guard/internal/monitor/domain"
	"proximity-guard/internal/observability/metrics"
	"proximity-guard/internal/telemetry/link"
	"proximity-guard/internal/telemetry/source"
)

// ErrSessionNotFound indicates an unknown session id.
var ErrSessionNotFound = errors.New("monitor: session not found")

// StartedSource is a running telemetry source owned by a session.
type StartedSource interface {
	Source
	Close() error
}

// SourceFactory builds and starts a source for a validated descriptor.
type SourceFactory func(ctx context.Context, d link.Descriptor) (StartedSource, error)

// DefaultSourceFactory dials real links with the given source config.
func DefaultSourceFactory(cfg source.Config, logger *log.Logger) SourceFactory {
	return func(ctx context.Context, d link.Descriptor) (StartedSource, error) {
		src, err := source.New(d, nil, cfg, logger)
		if err != nil {
			return nil, err
		}
		src.Start(ctx)
		return src, nil
	}
}

// SessionRequest is the validated input for one monitoring session.
type SessionRequest struct {
	Conn1      string
	Conn2      string
	Thresholds monitor.Thresholds
	Dialect1   string
	Dialect2   string
	Interval   time.Duration
}

// Validate checks thresholds and descriptors before any connection
// attempt or telemetry fetch.
func (r SessionRequest) Validate() (link.Descriptor, link.Descriptor, error) {
	if err := r.Thresholds.Validate(); err != nil {
		return link.Descriptor{}, link.Descriptor{}, err
	}
	d1, err := link.ParseDescriptor(r.Conn1)
	if err != nil {
		return link.Descriptor{}, link.Descriptor{}, err
	}
	d2, err := link.ParseDescriptor(r.Conn2)
	if err != nil {
		return link.Descriptor{}, link.Descriptor{}, err
	}
	return d1, d2, nil
}

// Manager owns the set of independent monitoring sessions. Sessions do
// not share state; their cycles run fully in parallel.
type Manager struct {
	factory    SourceFactory
	dispatcher Dispatcher
	notifier   Notifier
	recorder   EpisodeRecorder
	logger     *log.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
	seq      int
}

type managedSession struct {
	session *Session
	sources []StartedSource
	cancel  context.CancelFunc
}

// NewManager constructs a session manager.
func NewManager(factory SourceFactory, dispatcher Dispatcher, notifier Notifier, recorder EpisodeRecorder, logger *log.Logger) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("monitor: nil source factory")
	}
	if dispatcher == nil {
		return nil, errors.New("monitor: nil dispatcher")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		factory:    factory,
		dispatcher: dispatcher,
		notifier:   notifier,
		recorder:   recorder,
		logger:     logger,
		sessions:   make(map[string]*managedSession),
	}, nil
}

// StartSession validates the request, connects both sources, and runs
// the session's continuous loop in the background. The session's
// lifetime belongs to the manager, not to the caller: it ends only
// through StopSession or StopAll, never because the context that
// created it (an HTTP request, typically) went away.
func (m *Manager) StartSession(req SessionRequest) (*Session, error) {
	d1, d2, err := req.Validate()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("sess-%s", shortID(fmt.Sprintf("%d-%s-%s-%d", m.seq, req.Conn1, req.Conn2, time.Now().UnixNano())))
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	session, sources, err := m.buildSession(runCtx, id, req, d1, d2)
	if err != nil {
		cancel()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = &managedSession{session: session, sources: sources, cancel: cancel}
	m.mu.Unlock()
	metrics.SessionStarted()

	go session.Run(runCtx)
	m.logger.Printf("session %s: started (%s, %s, h<=%.2fm v<=%.2fm)", id, req.Conn1, req.Conn2, req.Thresholds.HorizontalM, req.Thresholds.VerticalM)
	return session, nil
}

// CheckOnce runs a single on-demand assessment over an ephemeral
// session: connect, cycle until a trustworthy reading arrives or ctx
// expires, tear down, and return the final snapshot. The returned
// snapshot is UNAVAILABLE when the vehicles never produced fresh data
// within the budget.
func (m *Manager) CheckOnce(ctx context.Context, req SessionRequest) (Snapshot, error) {
	d1, d2, err := req.Validate()
	if err != nil {
		return Snapshot{}, err
	}

	id := "check-" + shortID(fmt.Sprintf("%s-%s-%d", req.Conn1, req.Conn2, time.Now().UnixNano()))
	session, sources, err := m.buildSession(ctx, id, req, d1, d2)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() {
		for _, src := range sources {
			_ = src.Close()
		}
	}()

	// The first cycles commonly race the sources' initial connect, so
	// retry until data arrives or the caller's budget runs out.
	snapshot := session.RunCycle(ctx)
	for snapshot.Status == monitor.StatusUnavailable {
		select {
		case <-ctx.Done():
			return snapshot, nil
		case <-time.After(200 * time.Millisecond):
		}
		snapshot = session.RunCycle(ctx)
	}
	return snapshot, nil
}

func (m *Manager) buildSession(ctx context.Context, id string, req SessionRequest, d1, d2 link.Descriptor) (*Session, []StartedSource, error) {
	src1, err := m.factory(ctx, d1)
	if err != nil {
		return nil, nil, err
	}
	src2, err := m.factory(ctx, d2)
	if err != nil {
		_ = src1.Close()
		return nil, nil, err
	}

	cfg := SessionConfig{
		ID:         id,
		Thresholds: req.Thresholds,
		Dialect1:   req.Dialect1,
		Dialect2:   req.Dialect2,
		Interval:   req.Interval,
	}
	session, err := NewSession(cfg, src1, src2, m.dispatcher, m.notifier, m.recorder, m.logger)
	if err != nil {
		_ = src1.Close()
		_ = src2.Close()
		return nil, nil, err
	}
	return session, []StartedSource{src1, src2}, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	managed, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return managed.session, nil
}

// List returns all session ids.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StopSession stops a session's loop and closes its sources.
func (m *Manager) StopSession(id string) error {
	m.mu.Lock()
	managed, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	managed.cancel()
	<-managed.session.Done()
	for _, src := range managed.sources {
		_ = src.Close()
	}
	metrics.SessionStopped()
	m.logger.Printf("session %s: stopped", id)
	return nil
}

// StopAll stops every session, for shutdown.
func (m *Manager) StopAll() {
	for _, id := range m.List() {
		_ = m.StopSession(id)
	}
}

func shortID(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:8])
}
