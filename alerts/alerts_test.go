package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chilla55/backup-dashboard/metrics"
	"github.com/chilla55/backup-dashboard/poller"
	"github.com/chilla55/backup-dashboard/timefmt"
	"github.com/chilla55/backup-dashboard/upstream"
	"github.com/chilla55/backup-dashboard/webhook"
)

var now = time.Unix(1700000000, 0)

type recordingSender struct {
	mu     sync.Mutex
	alerts []webhook.Alert
	err    error
}

func (r *recordingSender) Send(_ context.Context, a webhook.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingSender) Events() []webhook.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []webhook.EventType
	for _, a := range r.alerts {
		out = append(out, a.Event)
	}
	return out
}

func newEvaluator(t *testing.T, sender Sender, opts ...Option) *Evaluator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(sender, timefmt.New(time.UTC, 0), 24*time.Hour, opts...)
}

func company(status string, endTime int64) upstream.Company {
	return upstream.Company{
		CompanyName: "Acme",
		CompanyKey:  "acme",
		LastUpdate:  json.Number("1699990000"),
		Recent: []upstream.Backup{{
			ID:          json.Number("7"),
			ProxmoxHost: "pve1",
			VMID:        json.Number("101"),
			VMName:      "db",
			Status:      status,
			EndTime:     json.Number(strconv.FormatInt(endTime, 10)),
		}},
	}
}

func snapshot(companies ...upstream.Company) poller.Snapshot {
	return poller.Snapshot{Companies: companies, FetchedAt: now}
}

func events(alerts []webhook.Alert) []webhook.EventType {
	var out []webhook.EventType
	for _, a := range alerts {
		out = append(out, a.Event)
	}
	return out
}

func TestBackupFailureAndRecovery(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t, &recordingSender{})

	assert.Empty(t, e.Evaluate(snapshot(company("SUCCESS", 1))), "Healthy company raises nothing")

	failed := e.Evaluate(snapshot(company("FAIL", 2)))
	require.Equal(t, []webhook.EventType{webhook.EventBackupFailed}, events(failed))
	assert.Equal(t, "acme", failed[0].Subject)
	assert.Equal(t, "pve1", failed[0].Fields["Host"])
	assert.Equal(t, now, failed[0].Timestamp)

	assert.Empty(t, e.Evaluate(snapshot(company("FAIL", 2))), "Same failed backup is reported once")

	again := e.Evaluate(snapshot(company("ERROR", 3)))
	assert.Equal(t, []webhook.EventType{webhook.EventBackupFailed}, events(again), "A new failed run is reported")

	recovered := e.Evaluate(snapshot(company("SUCCESS", 4)))
	assert.Equal(t, []webhook.EventType{webhook.EventBackupRecovered}, events(recovered))
}

func TestStale(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t, &recordingSender{})

	old := company("SUCCESS", 1)
	old.LastUpdate = json.Number("1699800000")

	got := e.Evaluate(snapshot(old))
	require.Equal(t, []webhook.EventType{webhook.EventBackupStale}, events(got))
	assert.Equal(t, "12/11/2023 14:40:00", got[0].Fields["Último backup"])

	assert.Empty(t, e.Evaluate(snapshot(old)), "Still stale, already reported")
	assert.Empty(t, e.Evaluate(snapshot(company("SUCCESS", 1))), "Freshness is not alerted")

	e.SetStaleAfter(time.Minute)
	assert.Equal(t, []webhook.EventType{webhook.EventBackupStale}, events(e.Evaluate(snapshot(company("SUCCESS", 1)))))
}

func TestUpdateNormalizer(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t, &recordingSender{})
	e.UpdateNormalizer(timefmt.New(time.FixedZone("BRT", -3*3600), 0))

	old := company("SUCCESS", 1)
	old.LastUpdate = json.Number("1699800000")

	got := e.Evaluate(snapshot(old))
	require.Len(t, got, 1)
	assert.Equal(t, "12/11/2023 11:40:00", got[0].Fields["Último backup"], "Fields follow the swapped zone")
}

func TestReplicationPoolsAndDisks(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t, &recordingSender{})
	smartBad := false

	c := company("SUCCESS", 1)
	c.Replication.Jobs = []upstream.ReplicationJob{
		{VMID: json.Number("101"), SourceNode: "pve1", TargetNode: "pve2", Status: "SUCCESS"},
		{VMID: json.Number("102"), SourceNode: "pve1", TargetNode: "pve2", Status: "ERROR"},
	}
	c.Health = map[string]upstream.HostHealth{
		"pve1": {
			ReceivedAt: "2023-11-14 19:00:00",
			Pools:      []upstream.Pool{{Name: "rpool", Status: "ONLINE"}, {Name: "tank", Status: "degraded"}},
			Disks:      []upstream.Disk{{Name: "sda", SmartOK: &smartBad}, {Name: "sdb"}},
		},
	}

	got := e.Evaluate(snapshot(c))
	assert.ElementsMatch(t, []webhook.EventType{
		webhook.EventReplicationFailed,
		webhook.EventPoolDegraded,
		webhook.EventDiskSmartFailed,
	}, events(got))

	for _, a := range got {
		if a.Event == webhook.EventPoolDegraded {
			assert.Equal(t, "DEGRADED", a.Fields["Status"])
			assert.Equal(t, "warning", a.Severity)
			assert.Equal(t, "14/11/2023 19:00:00", a.Fields["Atualizado"])
		}
	}

	assert.Empty(t, e.Evaluate(snapshot(c)), "Ongoing problems are reported once")

	c.Health["pve1"].Pools[1].Status = "ONLINE"
	assert.Empty(t, e.Evaluate(snapshot(c)))

	c.Health["pve1"].Pools[1].Status = "FAULTED"
	got = e.Evaluate(snapshot(c))
	require.Equal(t, []webhook.EventType{webhook.EventPoolDegraded}, events(got), "A pool failing again is reported")
	assert.Equal(t, "critical", got[0].Severity)
}

func TestUpstreamDown(t *testing.T) {
	t.Parallel()

	e := newEvaluator(t, &recordingSender{})

	down := poller.Snapshot{Companies: []upstream.Company{company("FAIL", 1)}, LastError: "HTTP 502: bad gateway"}

	got := e.Evaluate(down)
	require.Equal(t, []webhook.EventType{webhook.EventUpstreamDown}, events(got), "Cached companies are not judged while upstream is down")
	assert.Equal(t, "HTTP 502: bad gateway", got[0].Description)

	assert.Empty(t, e.Evaluate(down))
	assert.Equal(t, []webhook.EventType{webhook.EventBackupFailed}, events(e.Evaluate(snapshot(company("FAIL", 1)))))
}

func TestObserveSends(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sender := &recordingSender{err: errors.New("webhook down")}
	e := newEvaluator(t, sender, WithMetrics(metrics.NewCollector(reg)))

	e.Observe(snapshot(company("SUCCESS", 1)))
	e.Observe(snapshot(company("FAIL", 2)))
	e.Wait()

	assert.Equal(t, []webhook.EventType{webhook.EventBackupFailed}, sender.Events(), "Delivery errors are logged, not retried")
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "backup_dashboard_alerts_total"))
}
