package application

import (
	"context"
	"errors"
	"log"
	"time"

	commands "proximity-guard/internal/commands/domain"
	"proximity-guard/internal/observability/metrics"
	telemetry "proximity-guard/internal/telemetry/domain"
	"proximity-guard/internal/telemetry/link"
)

// ModeSetter is the outbound side of a vehicle link.
type ModeSetter interface {
	SetMode(ctx context.Context, modeCode int) error
}

// Dispatcher sends hold-mode requests to vehicles. It retries timeouts
// a bounded number of times with linear backoff, never retries an
// explicit rejection, and reports a terminal outcome per invocation.
// Idempotency across an episode is the caller's concern; the dispatcher
// itself performs exactly one attempt sequence per call.
type Dispatcher struct {
	modes       commands.HoldModeMap
	logger      *log.Logger
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration
}

// Option customizes a dispatcher.
type Option func(*Dispatcher)

// WithMaxAttempts bounds the attempt count for timeout retries.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff sets the linear backoff step between timeout retries.
func WithBackoff(step time.Duration) Option {
	return func(d *Dispatcher) {
		if step > 0 {
			d.backoff = step
		}
	}
}

// WithAttemptTimeout bounds a single mode-change attempt.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(modes commands.HoldModeMap, logger *log.Logger, opts ...Option) (*Dispatcher, error) {
	if err := modes.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		modes:       modes,
		logger:      logger,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		timeout:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// IssueHold requests hold mode for one vehicle and returns the terminal
// outcome. The context bounds the whole retry sequence.
func (d *Dispatcher) IssueHold(ctx context.Context, vehicleID, dialect string, setter ModeSetter) commands.Result {
	result := commands.Result{VehicleID: vehicleID, Outcome: commands.OutcomePending, UpdatedAt: time.Now().UTC()}
	if setter == nil {
		result.Outcome = commands.OutcomeNotConnected
		result.Detail = "no link"
		metrics.IncDispatchResult(string(result.Outcome))
		return result
	}

	modeCode, err := d.modes.HoldMode(dialect)
	if err != nil {
		result.Outcome = commands.OutcomeRejected
		result.Detail = err.Error()
		metrics.IncDispatchResult(string(result.Outcome))
		return result
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		result.Attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err = setter.SetMode(attemptCtx, modeCode)
		cancel()

		result.Outcome = OutcomeFor(err)
		result.UpdatedAt = time.Now().UTC()
		if err != nil {
			result.Detail = err.Error()
		} else {
			result.Detail = ""
		}

		if result.Outcome != commands.OutcomeTimeout {
			break
		}
		if attempt == d.maxAttempts || ctx.Err() != nil {
			break
		}
		d.logger.Printf("dispatch hold vehicle=%s attempt=%d timed out, retrying", vehicleID, attempt)
		select {
		case <-time.After(d.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			attempt = d.maxAttempts
		}
	}

	if result.Outcome == commands.OutcomeAcknowledged {
		d.logger.Printf("dispatch hold vehicle=%s mode=%d acknowledged", vehicleID, modeCode)
	} else {
		d.logger.Printf("dispatch hold vehicle=%s mode=%d failed: %s (%s)", vehicleID, modeCode, result.Outcome, result.Detail)
	}
	metrics.IncDispatchResult(string(result.Outcome))
	return result
}

// OutcomeFor maps a mode-change error to its dispatch outcome.
func OutcomeFor(err error) commands.Outcome {
	switch {
	case err == nil:
		return commands.OutcomeAcknowledged
	case errors.Is(err, link.ErrModeRejected):
		return commands.OutcomeRejected
	case errors.Is(err, telemetry.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return commands.OutcomeTimeout
	case errors.Is(err, telemetry.ErrUnavailable), errors.Is(err, telemetry.ErrConnection), errors.Is(err, link.ErrClosed):
		return commands.OutcomeNotConnected
	default:
		return commands.OutcomeRejected
	}
}
