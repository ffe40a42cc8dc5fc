package application

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	commands "proximity-guard/internal/commands/domain"
	telemetry "proximity-guard/internal/telemetry/domain"
	"proximity-guard/internal/telemetry/link"
)

type stubSetter struct {
	errs  []error
	calls int
	modes []int
}

func (s *stubSetter) SetMode(_ context.Context, modeCode int) error {
	s.modes = append(s.modes, modeCode)
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	return err
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	d, err := NewDispatcher(commands.DefaultHoldModeMap(), quiet,
		WithMaxAttempts(3),
		WithBackoff(time.Millisecond),
		WithAttemptTimeout(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestIssueHold_Acknowledged(t *testing.T) {
	d := newTestDispatcher(t)
	setter := &stubSetter{}

	result := d.IssueHold(context.Background(), "veh-1", "ardupilot", setter)
	if result.Outcome != commands.OutcomeAcknowledged {
		t.Fatalf("expected acknowledged, got %s", result.Outcome)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", result.Attempts)
	}
	if setter.modes[0] != 5 {
		t.Fatalf("ardupilot hold mode should be 5, got %d", setter.modes[0])
	}
}

func TestIssueHold_TimeoutRetriesAreBounded(t *testing.T) {
	d := newTestDispatcher(t)
	setter := &stubSetter{errs: []error{telemetry.ErrTimeout, telemetry.ErrTimeout, telemetry.ErrTimeout, telemetry.ErrTimeout}}

	result := d.IssueHold(context.Background(), "veh-1", "ardupilot", setter)
	if result.Outcome != commands.OutcomeTimeout {
		t.Fatalf("expected timeout, got %s", result.Outcome)
	}
	if setter.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", setter.calls)
	}
	if result.Attempts != 3 {
		t.Fatalf("result should record 3 attempts, got %d", result.Attempts)
	}
}

func TestIssueHold_TimeoutThenAcknowledged(t *testing.T) {
	d := newTestDispatcher(t)
	setter := &stubSetter{errs: []error{telemetry.ErrTimeout, nil}}

	result := d.IssueHold(context.Background(), "veh-1", "ardupilot", setter)
	if result.Outcome != commands.OutcomeAcknowledged {
		t.Fatalf("expected acknowledged after retry, got %s", result.Outcome)
	}
	if setter.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", setter.calls)
	}
}

func TestIssueHold_RejectedIsNeverRetried(t *testing.T) {
	d := newTestDispatcher(t)
	setter := &stubSetter{errs: []error{link.ErrModeRejected, nil}}

	result := d.IssueHold(context.Background(), "veh-1", "ardupilot", setter)
	if result.Outcome != commands.OutcomeRejected {
		t.Fatalf("expected rejected, got %s", result.Outcome)
	}
	if setter.calls != 1 {
		t.Fatalf("rejected must end the sequence, got %d attempts", setter.calls)
	}
}

func TestIssueHold_NilSetter(t *testing.T) {
	d := newTestDispatcher(t)
	result := d.IssueHold(context.Background(), "veh-1", "ardupilot", nil)
	if result.Outcome != commands.OutcomeNotConnected {
		t.Fatalf("expected not_connected, got %s", result.Outcome)
	}
}

func TestIssueHold_UnknownDialect(t *testing.T) {
	d := newTestDispatcher(t)
	setter := &stubSetter{}
	result := d.IssueHold(context.Background(), "veh-1", "no-such-dialect", setter)
	if result.Outcome != commands.OutcomeRejected {
		t.Fatalf("expected rejected for unknown dialect, got %s", result.Outcome)
	}
	if setter.calls != 0 {
		t.Fatal("unknown dialect must not reach the vehicle")
	}
}

func TestOutcomeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want commands.Outcome
	}{
		{"nil", nil, commands.OutcomeAcknowledged},
		{"mode rejected", link.ErrModeRejected, commands.OutcomeRejected},
		{"read timeout", telemetry.ErrTimeout, commands.OutcomeTimeout},
		{"deadline exceeded", context.DeadlineExceeded, commands.OutcomeTimeout},
		{"unavailable", telemetry.ErrUnavailable, commands.OutcomeNotConnected},
		{"connection", telemetry.ErrConnection, commands.OutcomeNotConnected},
		{"closed link", link.ErrClosed, commands.OutcomeNotConnected},
		{"unknown error", errors.New("boom"), commands.OutcomeRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OutcomeFor(tc.err); got != tc.want {
				t.Fatalf("OutcomeFor(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}
