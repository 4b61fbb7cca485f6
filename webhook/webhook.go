package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier delivers backup alerts to chat/ops webhooks
type Notifier struct {
	webhooks      []Webhook
	client        *http.Client
	throttle      map[string]time.Time // event/subject -> last alert time
	throttleMutex sync.Mutex
	stats         Stats
	statsMutex    sync.RWMutex
	enabled       bool
}

// Webhook represents a webhook configuration
type Webhook struct {
	Name     string   `yaml:"name"`
	URL      string   `yaml:"url"`
	Events   []string `yaml:"events"`   // Which events to send; empty means all
	Throttle int      `yaml:"throttle"` // Seconds between alerts for the same event and subject
	Type     string   `yaml:"type"`     // discord, slack, generic
}

// EventType represents different alert event types
type EventType string

const (
	EventBackupFailed      EventType = "backup_failed"
	EventBackupStale       EventType = "backup_stale"
	EventBackupRecovered   EventType = "backup_recovered"
	EventReplicationFailed EventType = "replication_failed"
	EventPoolDegraded      EventType = "pool_degraded"
	EventDiskSmartFailed   EventType = "disk_smart_failed"
	EventUpstreamDown      EventType = "upstream_down"
)

// Alert represents an alert to be sent
type Alert struct {
	Event       EventType         `json:"event"`
	Subject     string            `json:"subject"` // Company (or host) the alert is about
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Severity    string            `json:"severity"` // info, warning, error, critical
	Fields      map[string]string `json:"fields"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Stats tracks webhook statistics
type Stats struct {
	AlertsSent      int64            `json:"alerts_sent"`
	AlertsFailed    int64            `json:"alerts_failed"`
	AlertsThrottled int64            `json:"alerts_throttled"`
	ByEvent         map[string]int64 `json:"by_event"`
	ByWebhook       map[string]int64 `json:"by_webhook"`
}

// Config represents webhook configuration
type Config struct {
	Enabled  bool      `yaml:"enabled"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// DiscordEmbed represents a Discord webhook embed
type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []DiscordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

// DiscordField represents a field in a Discord embed
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordPayload represents a Discord webhook payload
type DiscordPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

// New creates a new webhook notifier
func New(config Config) *Notifier {
	if !config.Enabled || len(config.Webhooks) == 0 {
		log.Info().Msg("Webhook notifications disabled")
		return &Notifier{enabled: false}
	}

	notifier := &Notifier{
		webhooks: config.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		throttle: make(map[string]time.Time),
		enabled:  true,
		stats: Stats{
			ByEvent:   make(map[string]int64),
			ByWebhook: make(map[string]int64),
		},
	}

	log.Info().
		Int("webhooks", len(config.Webhooks)).
		Msg("Webhook notifier initialized")

	return notifier
}

// Send sends an alert to every webhook subscribed to its event
func (n *Notifier) Send(ctx context.Context, alert Alert) error {
	if !n.enabled {
		return nil
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	throttleKey := string(alert.Event) + "/" + alert.Subject
	n.throttleMutex.Lock()
	lastAlert, exists := n.throttle[throttleKey]
	n.throttleMutex.Unlock()

	var errs []error
	sent := false

	for _, webhook := range n.webhooks {
		if !webhook.handles(alert.Event) {
			continue
		}

		if exists && time.Since(lastAlert) < time.Duration(webhook.Throttle)*time.Second {
			n.statsMutex.Lock()
			n.stats.AlertsThrottled++
			n.statsMutex.Unlock()
			log.Debug().
				Str("event", string(alert.Event)).
				Str("subject", alert.Subject).
				Str("webhook", webhook.Name).
				Msg("Alert throttled")
			continue
		}

		if err := n.sendToWebhook(ctx, webhook, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", webhook.Name, err))
			n.statsMutex.Lock()
			n.stats.AlertsFailed++
			n.statsMutex.Unlock()
			continue
		}

		sent = true
		n.statsMutex.Lock()
		n.stats.AlertsSent++
		n.stats.ByEvent[string(alert.Event)]++
		n.stats.ByWebhook[webhook.Name]++
		n.statsMutex.Unlock()
	}

	if sent {
		n.throttleMutex.Lock()
		n.throttle[throttleKey] = time.Now()
		n.throttleMutex.Unlock()
	}

	if len(errs) > 0 {
		return fmt.Errorf("webhook errors: %w", errors.Join(errs...))
	}
	return nil
}

func (w Webhook) handles(event EventType) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == string(event) {
			return true
		}
	}
	return false
}

func (n *Notifier) sendToWebhook(ctx context.Context, webhook Webhook, alert Alert) error {
	var payload interface{}

	switch webhook.Type {
	case "discord":
		payload = buildDiscordPayload(alert)
	case "slack":
		payload = buildSlackPayload(alert)
	default:
		payload = alert
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Info().
		Str("webhook", webhook.Name).
		Str("event", string(alert.Event)).
		Str("subject", alert.Subject).
		Msg("Alert sent")

	return nil
}

// sortedFields keeps embed/attachment field order stable
func sortedFields(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildDiscordPayload(alert Alert) DiscordPayload {
	fields := make([]DiscordField, 0, len(alert.Fields))
	for _, name := range sortedFields(alert.Fields) {
		fields = append(fields, DiscordField{
			Name:   name,
			Value:  alert.Fields[name],
			Inline: true,
		})
	}

	return DiscordPayload{
		Embeds: []DiscordEmbed{{
			Title:       alert.Title,
			Description: alert.Description,
			Color:       severityColor(alert.Severity),
			Fields:      fields,
			Timestamp:   alert.Timestamp.Format(time.RFC3339),
		}},
	}
}

func buildSlackPayload(alert Alert) interface{} {
	fields := make([]map[string]interface{}, 0, len(alert.Fields))
	for _, name := range sortedFields(alert.Fields) {
		fields = append(fields, map[string]interface{}{
			"title": name,
			"value": alert.Fields[name],
			"short": true,
		})
	}

	return map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"title":  alert.Title,
				"text":   alert.Description,
				"color":  severityColorHex(alert.Severity),
				"fields": fields,
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}
}

// severityColor returns the Discord color code for severity
func severityColor(severity string) int {
	switch severity {
	case "critical", "error":
		return 15158332 // Red
	case "warning":
		return 16776960 // Yellow
	case "info":
		return 3447003 // Blue
	default:
		return 9807270 // Gray
	}
}

// severityColorHex returns the Slack color for severity
func severityColorHex(severity string) string {
	switch severity {
	case "critical", "error":
		return "#e74c3c"
	case "warning":
		return "#f39c12"
	case "info":
		return "#3498db"
	default:
		return "#95a5a6"
	}
}

// GetStats returns current webhook statistics
func (n *Notifier) GetStats() Stats {
	if !n.enabled {
		return Stats{
			ByEvent:   make(map[string]int64),
			ByWebhook: make(map[string]int64),
		}
	}

	n.statsMutex.RLock()
	defer n.statsMutex.RUnlock()

	stats := Stats{
		AlertsSent:      n.stats.AlertsSent,
		AlertsFailed:    n.stats.AlertsFailed,
		AlertsThrottled: n.stats.AlertsThrottled,
		ByEvent:         make(map[string]int64, len(n.stats.ByEvent)),
		ByWebhook:       make(map[string]int64, len(n.stats.ByWebhook)),
	}
	for event, count := range n.stats.ByEvent {
		stats.ByEvent[event] = count
	}
	for webhook, count := range n.stats.ByWebhook {
		stats.ByWebhook[webhook] = count
	}

	return stats
}

// IsEnabled returns whether webhook notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.enabled
}

// ClearThrottle forgets when an event was last sent for subject
func (n *Notifier) ClearThrottle(event EventType, subject string) {
	if !n.enabled {
		return
	}

	n.throttleMutex.Lock()
	delete(n.throttle, string(event)+"/"+subject)
	n.throttleMutex.Unlock()
}
