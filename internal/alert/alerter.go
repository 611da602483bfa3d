package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/metrics"
)

// AlertType categorizes the kind of alert.
type AlertType string

const (
	AlertTypeUnhealthy      AlertType = "UNHEALTHY"
	AlertTypeRecovery       AlertType = "RECOVERY"
	AlertTypeIndexerStopped AlertType = "INDEXER_STOPPED"
	AlertTypeWriterLost     AlertType = "WRITER_LOST"
	AlertTypePoolExhausted  AlertType = "POOL_EXHAUSTED"
	AlertTypeDBPool         AlertType = "DB_POOL"
)

const httpTimeout = 10 * time.Second

// Alert represents a single alert event. Component names the pipeline
// stage that raised it.
type Alert struct {
	Type      AlertType
	Chain     string
	Component string
	Title     string
	Message   string
	Fields    map[string]string
}

type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Named is implemented by channels that label their metrics.
type Named interface {
	Name() string
}

func channelName(a Alerter) string {
	if n, ok := a.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// MultiAlerter fans an alert out to every channel. An alert with the same
// type, chain and component is suppressed for cooldown after it was sent;
// a RECOVERY re-arms the UNHEALTHY alert of its component.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		nowFunc:  time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func cooldownKey(t AlertType, a Alert) string {
	return string(t) + ":" + a.Chain + ":" + a.Component
}

// admit records the send and reports whether it is outside the cooldown.
func (m *MultiAlerter) admit(alert Alert) bool {
	now := m.nowFunc()
	key := cooldownKey(alert.Type, alert)

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
		return false
	}
	m.lastSent[key] = now
	if alert.Type == AlertTypeRecovery {
		delete(m.lastSent, cooldownKey(AlertTypeUnhealthy, alert))
	}
	return true
}

// Send returns the first channel error; the remaining channels are still
// tried.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	if !m.admit(alert) {
		m.logger.Debug("alert suppressed by cooldown", "type", alert.Type, "component", alert.Component)
		for _, a := range m.alerters {
			metrics.AlertsCooldownSkipped.WithLabelValues(channelName(a), string(alert.Type)).Inc()
		}
		return nil
	}

	var firstErr error
	for _, a := range m.alerters {
		name := channelName(a)
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed", "channel", name, "type", alert.Type, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(name, string(alert.Type)).Inc()
	}
	return firstErr
}

// postJSON posts v to url and fails on a non-2xx answer.
func postJSON(ctx context.Context, client *http.Client, channel, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
	}
	return nil
}

// SlackAlerter posts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{webhookURL: webhookURL, client: &http.Client{Timeout: httpTimeout}}
}

func (s *SlackAlerter) Name() string { return "slack" }

var slackEmoji = map[AlertType]string{
	AlertTypeRecovery:       ":white_check_mark:",
	AlertTypeIndexerStopped: ":octagonal_sign:",
	AlertTypeWriterLost:     ":rotating_light:",
	AlertTypePoolExhausted:  ":skull:",
}

// slackText renders the alert with its fields in key order.
func slackText(alert Alert) string {
	emoji, ok := slackEmoji[alert.Type]
	if !ok {
		emoji = ":warning:"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s]* %s/%s: %s\n%s",
		emoji, alert.Type, alert.Chain, alert.Component, alert.Title, alert.Message)

	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- *%s*: %s\n", k, alert.Fields[k])
		}
	}
	return b.String()
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	return postJSON(ctx, s.client, "slack", s.webhookURL, map[string]string{"text": slackText(alert)})
}

// WebhookAlerter posts the alert as a JSON document to any HTTP endpoint.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{url: url, client: &http.Client{Timeout: httpTimeout}}
}

func (w *WebhookAlerter) Name() string { return "webhook" }

type webhookPayload struct {
	Type      AlertType         `json:"type"`
	Chain     string            `json:"chain"`
	Component string            `json:"component"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Time      string            `json:"time"`
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	return postJSON(ctx, w.client, "webhook", w.url, webhookPayload{
		Type:      alert.Type,
		Chain:     alert.Chain,
		Component: alert.Component,
		Title:     alert.Title,
		Message:   alert.Message,
		Fields:    alert.Fields,
		Time:      time.Now().UTC().Format(time.RFC3339),
	})
}

// NoopAlerter is used when no channel is configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
