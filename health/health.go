// Package health tracks how reliably the monitoring API has been answering.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chilla55/backup-dashboard/poller"
)

// Status represents upstream health status
type Status string

const (
	StatusHealthy  Status = "healthy"  // 90%+ success rate
	StatusDegraded Status = "degraded" // 50-90% success rate
	StatusDown     Status = "down"     // <50% success rate
	StatusUnknown  Status = "unknown"  // No polls yet
)

const defaultWindow = 20

// Tracker keeps the outcome of the most recent polls
type Tracker struct {
	mu sync.RWMutex

	window  []bool // ring of poll outcomes
	next    int
	filled  int
	status  Status
	total   int
	success int

	lastCheck   time.Time
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
}

// NewTracker creates a tracker judging the last size polls
func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = defaultWindow
	}
	return &Tracker{
		window: make([]bool, size),
		status: StatusUnknown,
	}
}

// Observe records the outcome of one poll; it is meant as a poller hook.
func (t *Tracker) Observe(snap poller.Snapshot) {
	success := snap.LastError == ""

	t.mu.Lock()
	t.window[t.next] = success
	t.next = (t.next + 1) % len(t.window)
	if t.filled < len(t.window) {
		t.filled++
	}

	t.total++
	t.lastCheck = snap.CheckedAt
	if success {
		t.success++
		t.lastSuccess = snap.CheckedAt
		t.lastError = ""
	} else {
		t.lastFailure = snap.CheckedAt
		t.lastError = snap.LastError
	}

	previous := t.status
	t.status = calculateStatus(t.successes(), t.filled)
	current := t.status
	t.mu.Unlock()

	// Log status changes
	if current == previous {
		return
	}
	if current == StatusHealthy {
		log.Info().Str("previous", string(previous)).Msg("Upstream healthy")
		return
	}
	log.Warn().
		Str("status", string(current)).
		Str("previous", string(previous)).
		Str("error", snap.LastError).
		Msg("Upstream health changed")
}

func (t *Tracker) successes() int {
	n := 0
	for i := 0; i < t.filled; i++ {
		if t.window[i] {
			n++
		}
	}
	return n
}

// calculateStatus determines health status based on success rate
func calculateStatus(successCount, totalChecks int) Status {
	if totalChecks == 0 {
		return StatusUnknown
	}

	successRate := float64(successCount) / float64(totalChecks) * 100

	if successRate >= 90 {
		return StatusHealthy
	} else if successRate >= 50 {
		return StatusDegraded
	}
	return StatusDown
}

// Report is the JSON-serializable health status
type Report struct {
	Status      string  `json:"status"`
	SuccessRate float64 `json:"success_rate_percent"`
	Window      int     `json:"window"`
	TotalChecks int     `json:"total_checks"`
	Successes   int     `json:"success_count"`
	Failures    int     `json:"failure_count"`
	LastCheck   int64   `json:"last_check,omitempty"`
	LastSuccess int64   `json:"last_success,omitempty"`
	LastFailure int64   `json:"last_failure,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
}

// Report returns a copy of the current status
func (t *Tracker) Report() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r := Report{
		Status:      string(t.status),
		Window:      t.filled,
		TotalChecks: t.total,
		Successes:   t.success,
		Failures:    t.total - t.success,
		LastCheck:   unix(t.lastCheck),
		LastSuccess: unix(t.lastSuccess),
		LastFailure: unix(t.lastFailure),
		LastError:   t.lastError,
	}
	if t.filled > 0 {
		r.SuccessRate = float64(t.successes()) / float64(t.filled) * 100
	}
	return r
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Status returns the current upstream status
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Ready reports whether any poll has ever succeeded
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.lastSuccess.IsZero()
}

// Handler serves the report. The dashboard itself stays live while the
// upstream is down, so the status code is always 200.
func (t *Tracker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(t.Report()); err != nil {
			log.Warn().Err(err).Msg("Failed to encode health report")
		}
	}
}

// ReadyHandler answers 503 until the first successful poll
func (t *Tracker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !t.Ready() {
			http.Error(w, "waiting for first successful poll", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
