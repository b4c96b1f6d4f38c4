// Package notify delivers pipeline outcomes to external webhook sinks.
// Delivery is fire-and-forget best effort: a failing sink is logged and
// ignored, and nothing here ever propagates an error into the job pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hypernode-labs/engine/internal/config"
	"github.com/hypernode-labs/engine/internal/faults"
	"github.com/hypernode-labs/engine/internal/models"
)

// Event names accepted by the manual trigger endpoint
const (
	TriggerJobCompleted  = "job_completed"
	TriggerNodeConnected = "node_connected"
)

type sink struct {
	name  string
	url   string
	field string // JSON field carrying the message text
}

// Fanout posts formatted messages to every configured sink
type Fanout struct {
	sinks   []sink
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// New creates a fanout from the configured sink URLs. Zero sinks is valid;
// every send becomes a no-op.
func New(cfg config.WebhooksConfig, log *slog.Logger) *Fanout {
	var sinks []sink
	if cfg.DiscordURL != "" {
		sinks = append(sinks, sink{name: "discord", url: cfg.DiscordURL, field: "content"})
	}
	if cfg.SlackURL != "" {
		sinks = append(sinks, sink{name: "slack", url: cfg.SlackURL, field: "text"})
	}
	for i, url := range cfg.ExtraURLs {
		sinks = append(sinks, sink{name: fmt.Sprintf("extra[%d]", i), url: url, field: "text"})
	}

	return &Fanout{
		sinks:   sinks,
		client:  &http.Client{Timeout: cfg.Timeout()},
		timeout: cfg.Timeout(),
		log:     log,
	}
}

// JobMatched announces a successful match
func (f *Fanout) JobMatched(ctx context.Context, d models.JobDescriptor, m *models.Match) {
	msg := fmt.Sprintf("🎯 **Job Matched**\nJob ID: %s\nNode ID: %s\nScore: %.3f",
		d.JobID, m.NodeID, m.Score)
	f.send(ctx, msg)
}

// JobCompleted announces a completion event observed on the ledger
func (f *Fanout) JobCompleted(ctx context.Context, signature string, ts time.Time) {
	msg := fmt.Sprintf("✅ **Job Completed**\nSignature: %s\nTimestamp: %s",
		signature, ts.Format(time.RFC3339))
	f.send(ctx, msg)
}

// NodeConnected announces a node registration observed on the ledger
func (f *Fanout) NodeConnected(ctx context.Context, signature string, ts time.Time) {
	msg := fmt.Sprintf("🖥️ **New Node Connected**\nSignature: %s\nTimestamp: %s",
		signature, ts.Format(time.RFC3339))
	f.send(ctx, msg)
}

// Trigger delivers a manually requested notification. Unknown event names are
// a validation error; delivery failures are not surfaced.
func (f *Fanout) Trigger(ctx context.Context, event string, data map[string]any) error {
	switch event {
	case TriggerJobCompleted:
		f.send(ctx, fmt.Sprintf("✅ **Job Completed**\n%s", formatData(data)))
	case TriggerNodeConnected:
		f.send(ctx, fmt.Sprintf("🖥️ **New Node Connected**\n%s", formatData(data)))
	default:
		return faults.Newf(faults.Validation, "unknown event type %q", event)
	}
	return nil
}

// send posts the message to all sinks concurrently and waits for every
// attempt. Each sink is its own failure domain.
func (f *Fanout) send(ctx context.Context, message string) {
	var wg sync.WaitGroup
	for _, s := range f.sinks {
		wg.Add(1)
		go func(s sink) {
			defer wg.Done()
			if err := f.post(ctx, s, message); err != nil {
				f.log.Error("webhook delivery failed", "sink", s.name, "error", err)
				return
			}
			f.log.Debug("webhook delivered", "sink", s.name)
		}(s)
	}
	wg.Wait()
}

func (f *Fanout) post(ctx context.Context, s sink, message string) error {
	body, err := json.Marshal(map[string]string{s.field: message})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink responded with status %d", resp.StatusCode)
	}
	return nil
}

func formatData(data map[string]any) string {
	if len(data) == 0 {
		return "(no data)"
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}
