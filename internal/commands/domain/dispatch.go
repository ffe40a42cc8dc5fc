package commands

import "time"

// Outcome is the terminal result of one hold-dispatch attempt sequence.
type Outcome string

const (
	// OutcomePending marks a dispatch that has been started but has not
	// resolved yet. Outcomes land asynchronously on the episode record.
	OutcomePending Outcome = "pending"

	// OutcomeAcknowledged means the vehicle accepted the hold request.
	OutcomeAcknowledged Outcome = "acknowledged"

	// OutcomeRejected means the vehicle explicitly refused the mode
	// change. Rejected is never retried automatically.
	OutcomeRejected Outcome = "rejected"

	// OutcomeTimeout means all bounded retry attempts timed out.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeNotConnected means dispatch was attempted with no live link.
	OutcomeNotConnected Outcome = "not_connected"
)

// Failed reports whether the outcome is terminal and unsuccessful.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeRejected, OutcomeTimeout, OutcomeNotConnected:
		return true
	default:
		return false
	}
}

// Result records the dispatch outcome for one vehicle within an episode.
type Result struct {
	VehicleID string    `json:"vehicle_id"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}
