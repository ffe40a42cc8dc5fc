package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	cmdapp "proximity-guard/internal/commands/application"
	commands "proximity-guard/internal/commands/domain"
	"proximity-guard/internal/geo"
	monitor "proximity-guard/internal/monitor/domain"
	"proximity-guard/internal/observability/metrics"
	telemetry "proximity-guard/internal/telemetry/domain"
)

// Source is the telemetry side of one vehicle as the session sees it.
type Source interface {
	Latest(ctx context.Context) (telemetry.PositionSample, error)
	SetMode(ctx context.Context, modeCode int) error
	Label() string
}

// Dispatcher issues hold commands. One call is one bounded attempt
// sequence with a terminal outcome.
type Dispatcher interface {
	IssueHold(ctx context.Context, vehicleID, dialect string, setter cmdapp.ModeSetter) commands.Result
}

// Event is a session lifecycle notification.
type Event struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	Snapshot  *Snapshot        `json:"snapshot,omitempty"`
	Episode   *monitor.Episode `json:"episode,omitempty"`
	Result    *commands.Result `json:"result,omitempty"`
}

// Event types emitted by a session.
const (
	EventSnapshot       = "snapshot"
	EventEpisodeOpened  = "episode_opened"
	EventEpisodeClosed  = "episode_closed"
	EventDispatchResult = "dispatch_result"
)

// Notifier receives session events.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// EpisodeRecorder persists episode lifecycle for audit. Optional.
type EpisodeRecorder interface {
	EpisodeOpened(ctx context.Context, sessionID string, episode monitor.Episode) error
	EpisodeClosed(ctx context.Context, sessionID string, episode monitor.Episode) error
	ActionRecorded(ctx context.Context, sessionID, episodeID string, result commands.Result) error
}

// Snapshot is the published result of one monitoring cycle.
type Snapshot struct {
	SessionID    string            `json:"session_id,omitempty"`
	Status       monitor.Status    `json:"status"`
	HorizontalM  *float64          `json:"horizontal_distance_m,omitempty"`
	VerticalM    *float64          `json:"vertical_distance_m,omitempty"`
	Actions      []commands.Result `json:"actions"`
	ActionFailed bool              `json:"action_failed,omitempty"`
	EpisodeID    string            `json:"episode_id,omitempty"`
	Detail       string            `json:"detail,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// SessionConfig describes one monitoring session.
type SessionConfig struct {
	ID           string
	Thresholds   monitor.Thresholds
	Dialect1     string
	Dialect2     string
	CycleTimeout time.Duration
	Interval     time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 2 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	return c
}

// Session monitors one vehicle pair: poll both sources concurrently,
// compute separation, advance the episode tracker, dispatch hold on a
// newly opened episode, publish a snapshot. Cycles for one session are
// strictly serialized; independent sessions run fully in parallel.
type Session struct {
	cfg        SessionConfig
	src1, src2 Source
	dispatcher Dispatcher
	notifier   Notifier
	recorder   EpisodeRecorder
	logger     *log.Logger

	// cycleMu serializes cycles; the tracker is only touched under it.
	cycleMu sync.Mutex
	tracker *monitor.Tracker

	// stateMu guards the episode action map, the last snapshot, and the
	// dispatch routes, which asynchronous dispatch completions also
	// mutate.
	stateMu  sync.Mutex
	snapshot Snapshot
	routes   map[string]dispatchRoute

	done chan struct{}
}

// NewSession constructs a session over two started sources.
func NewSession(cfg SessionConfig, src1, src2 Source, dispatcher Dispatcher, notifier Notifier, recorder EpisodeRecorder, logger *log.Logger) (*Session, error) {
	if src1 == nil || src2 == nil {
		return nil, errors.New("monitor: nil source")
	}
	if dispatcher == nil {
		return nil, errors.New("monitor: nil dispatcher")
	}
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.withDefaults()
	tracker, err := monitor.NewTracker(cfg.ID, cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:        cfg,
		src1:       src1,
		src2:       src2,
		dispatcher: dispatcher,
		notifier:   notifier,
		recorder:   recorder,
		logger:     logger,
		tracker:    tracker,
		routes:     make(map[string]dispatchRoute),
		snapshot: Snapshot{
			SessionID: cfg.ID,
			Status:    monitor.StatusUnavailable,
			Detail:    "no cycle has run",
			Timestamp: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// Thresholds returns the session thresholds.
func (s *Session) Thresholds() monitor.Thresholds { return s.cfg.Thresholds }

// RunCycle executes exactly one poll→compute→decide→act cycle and
// returns the resulting snapshot.
func (s *Session) RunCycle(ctx context.Context) Snapshot {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	sample1, sample2, fetchErr := s.fetchBoth(cctx)

	var snapshot Snapshot
	if fetchErr != nil {
		transition := s.tracker.ApplyUnavailable()
		snapshot = s.buildSnapshot(transition, nil, fetchErr.Error())
	} else {
		reading, err := computeSeparation(sample1, sample2)
		if err != nil {
			transition := s.tracker.ApplyUnavailable()
			snapshot = s.buildSnapshot(transition, nil, err.Error())
		} else {
			transition := s.tracker.Apply(reading)
			s.handleTransition(transition, sample1, sample2)
			snapshot = s.buildSnapshot(transition, &reading, "")
		}
	}

	s.stateMu.Lock()
	s.snapshot = snapshot
	s.stateMu.Unlock()

	metrics.ObserveCycle(string(snapshot.Status), time.Since(start))
	s.notify(Event{Type: EventSnapshot, SessionID: s.cfg.ID, Snapshot: &snapshot})
	return snapshot
}

// fetchBoth polls the two sources concurrently under the cycle context.
// A failure on either side makes the whole reading untrustworthy.
func (s *Session) fetchBoth(ctx context.Context) (telemetry.PositionSample, telemetry.PositionSample, error) {
	type fetch struct {
		sample telemetry.PositionSample
		err    error
	}
	var wg sync.WaitGroup
	results := make([]fetch, 2)
	for i, src := range []Source{s.src1, s.src2} {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			begin := time.Now()
			sample, err := src.Latest(ctx)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			} else {
				metrics.SetSourceSampleAge(src.Label(), sample.Age(time.Now()))
			}
			metrics.ObserveFetch(outcome, time.Since(begin))
			results[i] = fetch{sample: sample, err: err}
		}(i, src)
	}
	wg.Wait()

	if results[0].err != nil {
		return telemetry.PositionSample{}, telemetry.PositionSample{}, fmt.Errorf("%s: %w", s.src1.Label(), results[0].err)
	}
	if results[1].err != nil {
		return telemetry.PositionSample{}, telemetry.PositionSample{}, fmt.Errorf("%s: %w", s.src2.Label(), results[1].err)
	}
	return results[0].sample, results[1].sample, nil
}

func computeSeparation(a, b telemetry.PositionSample) (monitor.SeparationReading, error) {
	horizontal, err := geo.Horizontal(a.Position, b.Position)
	if err != nil {
		return monitor.SeparationReading{}, err
	}
	vertical, err := geo.Vertical(a.Position, b.Position)
	if err != nil {
		return monitor.SeparationReading{}, err
	}
	return monitor.SeparationReading{
		HorizontalM: horizontal,
		VerticalM:   vertical,
		ComputedAt:  time.Now().UTC(),
	}, nil
}

func (s *Session) handleTransition(transition monitor.Transition, sample1, sample2 telemetry.PositionSample) {
	switch transition.Signal {
	case monitor.SignalEpisodeOpened:
		episode := transition.Episode
		published := s.detach(episode)
		metrics.EpisodeOpened()
		s.logger.Printf("session %s: episode %s opened (h=%.2fm v=%.2fm)", s.cfg.ID, episode.ID, episode.Trigger.HorizontalM, episode.Trigger.VerticalM)
		if s.recorder != nil {
			if err := s.recorder.EpisodeOpened(context.Background(), s.cfg.ID, *published); err != nil {
				s.logger.Printf("session %s: record episode open: %v", s.cfg.ID, err)
			}
		}
		s.notify(Event{Type: EventEpisodeOpened, SessionID: s.cfg.ID, Episode: published})
		s.dispatchHold(episode, sample1.VehicleID, s.cfg.Dialect1, s.src1)
		s.dispatchHold(episode, sample2.VehicleID, s.cfg.Dialect2, s.src2)
	case monitor.SignalEpisodeClosed:
		episode := transition.Episode
		published := s.detach(episode)
		metrics.EpisodeClosed()
		s.logger.Printf("session %s: episode %s closed", s.cfg.ID, episode.ID)
		if s.recorder != nil {
			if err := s.recorder.EpisodeClosed(context.Background(), s.cfg.ID, *published); err != nil {
				s.logger.Printf("session %s: record episode close: %v", s.cfg.ID, err)
			}
		}
		s.notify(Event{Type: EventEpisodeClosed, SessionID: s.cfg.ID, Episode: published})
	}
}

// dispatchHold starts one asynchronous dispatch for a vehicle within an
// episode. The dispatch outlives the cycle that started it; its outcome
// lands on the episode record whenever it resolves. Guarded by the
// episode's commanded set so a vehicle is dispatched at most once per
// open episode.
func (s *Session) dispatchHold(episode *monitor.Episode, vehicleID, dialect string, src Source) {
	if vehicleID == "" {
		vehicleID = src.Label()
	}
	s.stateMu.Lock()
	if episode.Commanded(vehicleID) {
		s.stateMu.Unlock()
		return
	}
	episode.RecordAction(commands.Result{VehicleID: vehicleID, Outcome: commands.OutcomePending, UpdatedAt: time.Now().UTC()})
	s.routes[vehicleID] = dispatchRoute{src: src, dialect: dialect}
	s.stateMu.Unlock()

	go func() {
		result := s.dispatcher.IssueHold(context.Background(), vehicleID, dialect, src)
		s.recordDispatch(episode, result)
	}()
}

func (s *Session) recordDispatch(episode *monitor.Episode, result commands.Result) {
	s.stateMu.Lock()
	episode.RecordAction(result)
	if s.snapshot.EpisodeID == episode.ID {
		s.snapshot.Actions = episode.ActionList()
		s.snapshot.ActionFailed = episode.ActionFailed()
	}
	published := episode.Clone()
	s.stateMu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.ActionRecorded(context.Background(), s.cfg.ID, episode.ID, result); err != nil {
			s.logger.Printf("session %s: record dispatch: %v", s.cfg.ID, err)
		}
	}
	s.notify(Event{Type: EventDispatchResult, SessionID: s.cfg.ID, Episode: published, Result: &result})
	s.logger.Printf("session %s: episode %s vehicle %s: %s", s.cfg.ID, episode.ID, result.VehicleID, result.Outcome)
}

// detach clones an episode under the state lock. Anything published
// outside the session (events, recorder rows) gets a detached copy so
// concurrent dispatch completions cannot race the reader.
func (s *Session) detach(episode *monitor.Episode) *monitor.Episode {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return episode.Clone()
}

// RetryDispatch re-arms exactly one new dispatch attempt for a vehicle
// whose recorded outcome is a terminal failure. This is the only way a
// Rejected or exhausted-Timeout outcome is retried while the episode
// stays open.
func (s *Session) RetryDispatch(vehicleID string) error {
	if vehicleID == "" {
		return errors.New("monitor: vehicle id required")
	}
	s.cycleMu.Lock()
	episode := s.tracker.OpenEpisode()
	s.cycleMu.Unlock()
	if !episode.Open() {
		return ErrNoOpenEpisode
	}

	s.stateMu.Lock()
	result, ok := episode.Actions[vehicleID]
	if !ok {
		s.stateMu.Unlock()
		return fmt.Errorf("monitor: vehicle %q not commanded in episode %s", vehicleID, episode.ID)
	}
	if !result.Outcome.Failed() {
		s.stateMu.Unlock()
		return fmt.Errorf("monitor: vehicle %q outcome %s is not retryable", vehicleID, result.Outcome)
	}
	route, ok := s.routes[vehicleID]
	if !ok {
		s.stateMu.Unlock()
		return fmt.Errorf("monitor: no dispatch route recorded for vehicle %q", vehicleID)
	}
	episode.RecordAction(commands.Result{VehicleID: vehicleID, Outcome: commands.OutcomePending, UpdatedAt: time.Now().UTC()})
	s.stateMu.Unlock()

	go func() {
		retried := s.dispatcher.IssueHold(context.Background(), vehicleID, route.dialect, route.src)
		s.recordDispatch(episode, retried)
	}()
	return nil
}

// ErrNoOpenEpisode indicates a retry with no episode open.
var ErrNoOpenEpisode = errors.New("monitor: no open episode")

// dispatchRoute pins a retry to the exact link and dialect the original
// dispatch used. A hold for one vehicle must never go down the other
// vehicle's link, even while that vehicle's source is reconnecting and
// cannot say who it is.
type dispatchRoute struct {
	src     Source
	dialect string
}

func (s *Session) notify(event Event) {
	if s.notifier != nil {
		s.notifier.Notify(context.Background(), event)
	}
}

func (s *Session) buildSnapshot(transition monitor.Transition, reading *monitor.SeparationReading, detail string) Snapshot {
	snapshot := Snapshot{
		SessionID: s.cfg.ID,
		Status:    transition.Status,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if reading != nil {
		h, v := reading.HorizontalM, reading.VerticalM
		snapshot.HorizontalM = &h
		snapshot.VerticalM = &v
	}
	s.stateMu.Lock()
	if transition.Episode.Open() {
		snapshot.EpisodeID = transition.Episode.ID
		snapshot.Actions = transition.Episode.ActionList()
		snapshot.ActionFailed = transition.Episode.ActionFailed()
	}
	s.stateMu.Unlock()
	return snapshot
}

// Snapshot returns the most recently published snapshot.
func (s *Session) Snapshot() Snapshot {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.snapshot
}

// Episodes returns the episode history, oldest first, including the
// open episode at the end if any.
func (s *Session) Episodes() []monitor.Episode {
	s.cycleMu.Lock()
	history := s.tracker.History()
	s.cycleMu.Unlock()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	episodes := make([]monitor.Episode, 0, len(history))
	for _, e := range history {
		episodes = append(episodes, *e.Clone())
	}
	return episodes
}

// Run publishes snapshots at the configured cadence until ctx ends.
// Emits one summary line per cycle through the session logger.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		snapshot := s.RunCycle(ctx)
		s.logCycle(snapshot)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed when the Run loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) logCycle(snapshot Snapshot) {
	switch snapshot.Status {
	case monitor.StatusUnavailable:
		s.logger.Printf("session %s: status=%s (%s)", s.cfg.ID, snapshot.Status, snapshot.Detail)
	default:
		suffix := ""
		if snapshot.EpisodeID != "" {
			suffix = " episode=" + snapshot.EpisodeID
			if snapshot.ActionFailed {
				suffix += " action_failed"
			}
		}
		s.logger.Printf("session %s: status=%s h=%.2fm v=%.2fm%s", s.cfg.ID, snapshot.Status, *snapshot.HorizontalM, *snapshot.VerticalM, suffix)
	}
}
