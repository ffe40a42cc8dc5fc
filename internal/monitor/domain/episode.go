package monitor

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	commands "proximity-guard/internal/commands/domain"
)

// Episode is one maximal contiguous DANGER interval for a vehicle
// pair. It carries the idempotency invariant: each vehicle is commanded
// at most once while the episode is open.
type Episode struct {
	ID       string                     `json:"id"`
	OpenedAt time.Time                  `json:"opened_at"`
	ClosedAt time.Time                  `json:"closed_at,omitempty"`
	Trigger  SeparationReading          `json:"trigger"`
	Actions  map[string]commands.Result `json:"actions"`
}

// NewEpisode opens an episode triggered by the given reading.
func NewEpisode(pair string, reading SeparationReading, openedAt time.Time) *Episode {
	return &Episode{
		ID:       "ep-" + shortID(pair+openedAt.Format(time.RFC3339Nano)),
		OpenedAt: openedAt,
		Trigger:  reading,
		Actions:  make(map[string]commands.Result),
	}
}

// Open reports whether the episode is still open.
func (e *Episode) Open() bool {
	return e != nil && e.ClosedAt.IsZero()
}

// Commanded reports whether a dispatch has already been started for the
// vehicle within this episode.
func (e *Episode) Commanded(vehicleID string) bool {
	if e == nil {
		return false
	}
	_, ok := e.Actions[vehicleID]
	return ok
}

// RecordAction stores or replaces the dispatch result for a vehicle.
func (e *Episode) RecordAction(result commands.Result) {
	if e == nil || result.VehicleID == "" {
		return
	}
	e.Actions[result.VehicleID] = result
}

// ActionFailed reports whether any recorded dispatch ended in a
// terminal failure. An open episode with a failed action keeps
// reporting DANGER with this flag set so an operator can intervene.
func (e *Episode) ActionFailed() bool {
	if e == nil {
		return false
	}
	for _, result := range e.Actions {
		if result.Outcome.Failed() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The session publishes clones to notifiers
// and recorders so the live Actions map is only ever touched under the
// session's lock.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}
	copied := *e
	copied.Actions = make(map[string]commands.Result, len(e.Actions))
	for id, result := range e.Actions {
		copied.Actions[id] = result
	}
	return &copied
}

// ActionList returns the recorded results in stable vehicle order.
func (e *Episode) ActionList() []commands.Result {
	if e == nil || len(e.Actions) == 0 {
		return nil
	}
	results := make([]commands.Result, 0, len(e.Actions))
	for _, result := range e.Actions {
		results = append(results, result)
	}
	sortResults(results)
	return results
}

func sortResults(results []commands.Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].VehicleID < results[j-1].VehicleID; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func shortID(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:8])
}
