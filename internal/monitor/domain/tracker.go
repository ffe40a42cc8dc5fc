package monitor

import "time"

// Signal tells the caller what the latest reading changed.
type Signal int

const (
	// SignalNone: no episode lifecycle change.
	SignalNone Signal = iota

	// SignalEpisodeOpened: a non-DANGER → DANGER transition opened a
	// new episode; hold dispatch must run exactly once per vehicle.
	SignalEpisodeOpened

	// SignalEpisodeClosed: the open episode ended.
	SignalEpisodeClosed
)

// Transition is the outcome of applying one reading to the tracker.
type Transition struct {
	Status  Status
	Signal  Signal
	Episode *Episode
}

// Tracker owns the episode lifecycle for one vehicle pair. It is not
// safe for concurrent use; the monitoring service serializes cycles
// per pair and is the only mutator.
type Tracker struct {
	pair       string
	thresholds Thresholds

	status  Status
	open    *Episode
	history []*Episode

	maxHistory int
}

// NewTracker constructs a tracker for a vehicle pair.
func NewTracker(pair string, thresholds Thresholds) (*Tracker, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		pair:       pair,
		thresholds: thresholds,
		status:     StatusSafe,
		maxHistory: 256,
	}, nil
}

// Thresholds returns the session thresholds.
func (t *Tracker) Thresholds() Thresholds { return t.thresholds }

// Apply classifies a reading and advances the episode lifecycle.
func (t *Tracker) Apply(reading SeparationReading) Transition {
	status := Classify(reading, t.thresholds)
	switch {
	case status == StatusDanger && !t.open.Open():
		now := reading.ComputedAt
		if now.IsZero() {
			now = time.Now().UTC()
		}
		t.open = NewEpisode(t.pair, reading, now)
		t.status = status
		return Transition{Status: status, Signal: SignalEpisodeOpened, Episode: t.open}
	case status != StatusDanger && t.open.Open():
		closedAt := reading.ComputedAt
		if closedAt.IsZero() {
			closedAt = time.Now().UTC()
		}
		closed := t.open
		closed.ClosedAt = closedAt
		t.pushHistory(closed)
		t.open = nil
		t.status = status
		return Transition{Status: status, Signal: SignalEpisodeClosed, Episode: closed}
	default:
		t.status = status
		return Transition{Status: status, Signal: SignalNone, Episode: t.open}
	}
}

// ApplyUnavailable handles a cycle without a trustworthy reading.
// Fail-closed: it never reports SAFE and never closes an open episode —
// ambiguous input must not cancel an active safety response.
func (t *Tracker) ApplyUnavailable() Transition {
	t.status = StatusUnavailable
	return Transition{Status: StatusUnavailable, Signal: SignalNone, Episode: t.open}
}

// OpenEpisode returns the currently open episode, or nil.
func (t *Tracker) OpenEpisode() *Episode { return t.open }

// Status returns the status from the most recent reading.
func (t *Tracker) Status() Status { return t.status }

// History returns closed episodes, oldest first, plus the open episode
// at the end if any. Retained for operator audit.
func (t *Tracker) History() []*Episode {
	episodes := make([]*Episode, 0, len(t.history)+1)
	episodes = append(episodes, t.history...)
	if t.open != nil {
		episodes = append(episodes, t.open)
	}
	return episodes
}

func (t *Tracker) pushHistory(e *Episode) {
	t.history = append(t.history, e)
	if len(t.history) > t.maxHistory {
		t.history = t.history[len(t.history)-t.maxHistory:]
	}
}
