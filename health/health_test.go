package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chilla55/backup-dashboard/poller"
)

var base = time.Unix(1700000000, 0)

func poll(tr *Tracker, i int, lastErr string) {
	tr.Observe(poller.Snapshot{CheckedAt: base.Add(time.Duration(i) * time.Second), LastError: lastErr})
}

func TestCalculateStatus(t *testing.T) {
	if st := calculateStatus(0, 0); st != StatusUnknown {
		t.Fatalf("expected unknown, got %s", st)
	}
	if st := calculateStatus(9, 10); st != StatusHealthy {
		t.Fatalf("expected healthy, got %s", st)
	}
	if st := calculateStatus(5, 10); st != StatusDegraded {
		t.Fatalf("expected degraded, got %s", st)
	}
	if st := calculateStatus(4, 10); st != StatusDown {
		t.Fatalf("expected down, got %s", st)
	}
}

func TestTrackerWindow(t *testing.T) {
	tr := NewTracker(4)
	if tr.Status() != StatusUnknown || tr.Ready() {
		t.Fatal("new tracker should be unknown and not ready")
	}

	poll(tr, 0, "")
	if tr.Status() != StatusHealthy || !tr.Ready() {
		t.Fatalf("expected healthy and ready, got %s", tr.Status())
	}

	poll(tr, 1, "HTTP 502: bad gateway")
	if tr.Status() != StatusDegraded {
		t.Fatalf("expected degraded at 1/2, got %s", tr.Status())
	}

	poll(tr, 2, "HTTP 502: bad gateway")
	poll(tr, 3, "timeout")
	if tr.Status() != StatusDown {
		t.Fatalf("expected down at 1/4, got %s", tr.Status())
	}

	// Old outcomes fall out of the window
	for i := 4; i < 8; i++ {
		poll(tr, i, "")
	}
	if tr.Status() != StatusHealthy {
		t.Fatalf("expected healthy after recovery, got %s", tr.Status())
	}

	r := tr.Report()
	if r.TotalChecks != 8 || r.Successes != 5 || r.Failures != 3 {
		t.Errorf("unexpected counters: %+v", r)
	}
	if r.Window != 4 || r.SuccessRate != 100 {
		t.Errorf("unexpected window stats: %+v", r)
	}
	if r.LastFailure != base.Add(3*time.Second).Unix() || r.LastError != "" {
		t.Errorf("unexpected failure info: %+v", r)
	}
}

func TestHandlers(t *testing.T) {
	tr := NewTracker(0)

	rec := httptest.NewRecorder()
	tr.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before first poll, got %d", rec.Code)
	}

	poll(tr, 0, "connection refused")

	rec = httptest.NewRecorder()
	tr.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var r Report
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Status != string(StatusDown) || r.LastError != "connection refused" {
		t.Errorf("unexpected report: %+v", r)
	}

	poll(tr, 1, "")
	rec = httptest.NewRecorder()
	tr.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 after a successful poll, got %d", rec.Code)
	}
}
