package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	monitorapp "proximity-guard/internal/monitor/application"
)

// WebhookNotifier posts episode lifecycle events to a webhook. Snapshot
// events are skipped so the endpoint only sees state changes.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *log.Logger
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, logger *log.Logger) *WebhookNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify implements the session notifier interface.
func (n *WebhookNotifier) Notify(ctx context.Context, event monitorapp.Event) {
	if n == nil || n.url == "" {
		return
	}
	if event.Type == monitorapp.EventSnapshot {
		return
	}
	if err := n.send(ctx, event); err != nil {
		n.logger.Printf("webhook notifier: %v", err)
	}
}

func (n *WebhookNotifier) send(ctx context.Context, event monitorapp.Event) error {
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: formatEvent(event)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("webhook notifier: non-2xx")
	}
	return nil
}

func formatEvent(event monitorapp.Event) string {
	var b strings.Builder
	b.WriteString("[Proximity Guard]\n")
	fmt.Fprintf(&b, "Event: %s\n", eventLabel(event.Type))
	if event.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", event.SessionID)
	}
	if event.Episode != nil {
		fmt.Fprintf(&b, "Episode: %s\n", event.Episode.ID)
		fmt.Fprintf(&b, "Trigger: h=%.2fm v=%.2fm\n", event.Episode.Trigger.HorizontalM, event.Episode.Trigger.VerticalM)
		if !event.Episode.ClosedAt.IsZero() {
			fmt.Fprintf(&b, "Duration: %s\n", event.Episode.ClosedAt.Sub(event.Episode.OpenedAt).Round(time.Millisecond))
		}
	}
	if event.Result != nil {
		fmt.Fprintf(&b, "Hold %s: %s", event.Result.VehicleID, event.Result.Outcome)
		if event.Result.Detail != "" {
			fmt.Fprintf(&b, " (%s)", event.Result.Detail)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func eventLabel(eventType string) string {
	switch eventType {
	case monitorapp.EventEpisodeOpened:
		return "Danger episode opened"
	case monitorapp.EventEpisodeClosed:
		return "Danger episode closed"
	case monitorapp.EventDispatchResult:
		return "Hold dispatch result"
	default:
		return eventType
	}
}
