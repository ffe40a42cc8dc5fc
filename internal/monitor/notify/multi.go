package notify

import (
	"context"

	monitorapp "proximity-guard/internal/monitor/application"
)

// MultiNotifier dispatches monitor events to multiple notifiers.
type MultiNotifier struct {
	notifiers []monitorapp.Notifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...monitorapp.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event monitorapp.Event) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}
