package monitor

import (
	"testing"
	"time"

	commands "proximity-guard/internal/commands/domain"
)

func reading(h, v float64) SeparationReading {
	return SeparationReading{HorizontalM: h, VerticalM: v, ComputedAt: time.Now().UTC()}
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker("pair-1", Thresholds{HorizontalM: 15, VerticalM: 5})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return tracker
}

func TestTracker_OpensEpisodeOnceAcrossSustainedDanger(t *testing.T) {
	tracker := newTestTracker(t)

	first := tracker.Apply(reading(3, 1))
	if first.Signal != SignalEpisodeOpened {
		t.Fatalf("expected episode opened, got %v", first.Signal)
	}
	episodeID := first.Episode.ID
	if episodeID == "" {
		t.Fatal("expected non-empty episode id")
	}

	for i := 0; i < 9; i++ {
		transition := tracker.Apply(reading(3, 1))
		if transition.Signal != SignalNone {
			t.Fatalf("cycle %d: expected no lifecycle change, got %v", i, transition.Signal)
		}
		if transition.Episode.ID != episodeID {
			t.Fatalf("cycle %d: episode identity changed inside one danger interval", i)
		}
	}
}

func TestTracker_ReopenCreatesNewEpisode(t *testing.T) {
	tracker := newTestTracker(t)

	opened := tracker.Apply(reading(3, 1))
	firstID := opened.Episode.ID

	closed := tracker.Apply(reading(50, 20))
	if closed.Signal != SignalEpisodeClosed {
		t.Fatalf("expected episode closed, got %v", closed.Signal)
	}
	if closed.Episode.Open() {
		t.Fatal("closed episode still reports open")
	}

	reopened := tracker.Apply(reading(2, 2))
	if reopened.Signal != SignalEpisodeOpened {
		t.Fatalf("expected new episode, got %v", reopened.Signal)
	}
	if reopened.Episode.ID == firstID {
		t.Fatal("re-triggered danger must get a fresh episode identity")
	}

	history := tracker.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 episodes in history, got %d", len(history))
	}
	if history[0].ID != firstID {
		t.Fatal("history must keep closed episodes oldest first")
	}
}

func TestTracker_UnavailableNeverClosesEpisode(t *testing.T) {
	tracker := newTestTracker(t)

	opened := tracker.Apply(reading(3, 1))
	id := opened.Episode.ID

	for i := 0; i < 3; i++ {
		transition := tracker.ApplyUnavailable()
		if transition.Status != StatusUnavailable {
			t.Fatalf("expected UNAVAILABLE, got %s", transition.Status)
		}
		if transition.Signal != SignalNone {
			t.Fatal("unavailable input must not change episode lifecycle")
		}
	}
	if open := tracker.OpenEpisode(); !open.Open() || open.ID != id {
		t.Fatal("episode must stay open through unavailable cycles")
	}

	recovered := tracker.Apply(reading(3, 1))
	if recovered.Signal != SignalNone {
		t.Fatal("recovering into sustained danger must not open a second episode")
	}
	if recovered.Episode.ID != id {
		t.Fatal("episode identity must survive an unavailable gap")
	}
}

func TestTracker_UnavailableWithoutEpisode(t *testing.T) {
	tracker := newTestTracker(t)
	transition := tracker.ApplyUnavailable()
	if transition.Status != StatusUnavailable {
		t.Fatalf("expected UNAVAILABLE, got %s", transition.Status)
	}
	if transition.Episode.Open() {
		t.Fatal("no episode should exist")
	}
	if tracker.Status() == StatusSafe {
		t.Fatal("unavailable must never be reported as SAFE")
	}
}

func TestEpisode_CommandedAndActionFailed(t *testing.T) {
	episode := NewEpisode("pair-1", reading(3, 1), time.Now().UTC())

	if episode.Commanded("veh-1") {
		t.Fatal("fresh episode should have no commanded vehicles")
	}
	episode.RecordAction(commands.Result{VehicleID: "veh-1", Outcome: commands.OutcomePending})
	if !episode.Commanded("veh-1") {
		t.Fatal("pending dispatch must count as commanded")
	}
	if episode.ActionFailed() {
		t.Fatal("pending outcome is not a failure")
	}

	episode.RecordAction(commands.Result{VehicleID: "veh-1", Outcome: commands.OutcomeRejected})
	if !episode.ActionFailed() {
		t.Fatal("rejected outcome must flag the episode")
	}

	episode.RecordAction(commands.Result{VehicleID: "veh-2", Outcome: commands.OutcomeAcknowledged})
	list := episode.ActionList()
	if len(list) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(list))
	}
	if list[0].VehicleID != "veh-1" || list[1].VehicleID != "veh-2" {
		t.Fatal("actions must be ordered by vehicle id")
	}
}
