package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
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
)

var clock = time.Unix(1700003600, 0)

type fakeSnapshots struct {
	snap       poller.Snapshot
	refreshErr error
	touches    atomic.Int32
}

func (f *fakeSnapshots) Snapshot() poller.Snapshot { return f.snap }

func (f *fakeSnapshots) Company(name string) (upstream.Company, bool) {
	for _, c := range f.snap.Companies {
		if c.CompanyName == name || c.Key() == name {
			return c, true
		}
	}
	return upstream.Company{}, false
}

func (f *fakeSnapshots) Refresh(context.Context) error { return f.refreshErr }

func (f *fakeSnapshots) Touch() { f.touches.Add(1) }

type fakeDetails struct {
	page *upstream.RecentPage
	err  error

	company string
	pageNo  int
	perPage int
}

func (f *fakeDetails) CompanyRecent(_ context.Context, company string, page, perPage int) (*upstream.RecentPage, error) {
	f.company, f.pageNo, f.perPage = company, page, perPage
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

// blockingDetails holds CompanyRecent until release is closed and records
// the context state the first call saw.
type blockingDetails struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	ctxErr  atomic.Value
}

func (b *blockingDetails) CompanyRecent(ctx context.Context, _ string, _, _ int) (*upstream.RecentPage, error) {
	first := b.calls.Add(1) == 1
	if first {
		close(b.started)
	}
	<-b.release
	if first {
		b.ctxErr.Store(fmt.Sprint(ctx.Err()))
	}
	return &upstream.RecentPage{Pagination: upstream.Pagination{CurrentPage: 1}}, nil
}

func acme() upstream.Company {
	return upstream.Company{
		CompanyName: "Acme",
		CompanyKey:  "acme",
		LastUpdate:  json.Number("1700000000"),
		Stats24h:    upstream.Stats24h{OK: 3, Fail: 1, Total: 4},
		Recent: []upstream.Backup{{
			VMID:             json.Number("101"),
			VMName:           "db",
			Status:           "FAIL",
			EndTime:          json.Number("1700000000"),
			WrittenSizeBytes: ptr(536870912.0),
		}},
		Health: map[string]upstream.HostHealth{
			"pve1": {
				ReceivedAt: "2023-11-14 19:00:00",
				Pools:      []upstream.Pool{{Name: "rpool", Status: "ONLINE"}},
				Disks:      []upstream.Disk{{Name: "sda"}},
			},
		},
		Replication: upstream.Replication{
			OK:          1,
			LastSyncStr: "2023-11-14 19:13:20",
			Jobs: []upstream.ReplicationJob{{
				VMID:        json.Number("101"),
				VMName:      "db",
				SourceNode:  "pve1",
				TargetNode:  "pve2",
				Status:      "SUCCESS",
				LastSync:    json.Number("1700000100"),
				LastSyncStr: "2023-11-14 22:15:00",
				FailCount:   ptr(0),
			}},
		},
	}
}

func newDashboard(t *testing.T, snaps *fakeSnapshots, details *fakeDetails, opts ...Option) *http.ServeMux {
	t.Helper()

	opts = append([]Option{WithClock(func() time.Time { return clock })}, opts...)
	d := New(snaps, details, timefmt.New(time.UTC, 0), Settings{
		Title:      "Monitor de Backups",
		RecentDots: 4,
		StaleAfter: 24 * time.Hour,
		PageSize:   10,
	}, opts...)

	mux := http.NewServeMux()
	d.Register(mux, nil)
	return mux
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec, rec.Body.String()
}

func TestSummaryPage(t *testing.T) {
	t.Parallel()

	snaps := &fakeSnapshots{snap: poller.Snapshot{Companies: []upstream.Company{acme()}, FetchedAt: clock}}
	mux := newDashboard(t, snaps, &fakeDetails{})

	rec, body := get(t, mux, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), snaps.touches.Load(), "Page views keep the poller awake")

	assert.Contains(t, body, "Última atualização: 14/11/2023 23:13:20")
	assert.Contains(t, body, `class="client-card error"`, "Newest backup failed")
	assert.Contains(t, body, "últ. backup: 14/11/2023 22:13:20 • ⚠")
	assert.Contains(t, body, `title="db • FAIL • 14/11/2023 22:13:20 • escrito 512.00 MB"`)
	assert.Equal(t, 3, strings.Count(body, `title="sem dado"`), "Ghost dots fill up to the configured count")
	assert.Contains(t, body, "24h ✔ 3")
	assert.Contains(t, body, "24h ✖ 1")
	assert.Contains(t, body, "24h total 4")
	assert.Contains(t, body, "VM 101: SUCCESS")
	assert.Contains(t, body, `title="VM 101 (db) • SUCCESS • 14/11/2023 22:15:00"`)
	assert.Contains(t, body, "Últ. replicação: 14/11/2023 19:13:20", "Raw timestamps are rescanned")
	assert.Contains(t, body, "DISK 1: ONLINE")
	assert.Contains(t, body, "Disk 2: FALHA")
	assert.Contains(t, body, `href="/company/Acme"`)

	_, again := get(t, mux, "/backups")
	assert.Contains(t, again, `class="client-card error"`, "/backups is an alias")
}

func TestSummaryCardStates(t *testing.T) {
	t.Parallel()

	b := viewBuilder{n: timefmt.New(time.UTC, 0), now: clock, recentDots: 2, staleAfter: 24 * time.Hour}

	fresh := acme()
	fresh.Recent[0].Status = "SUCCESS"
	card := b.card(fresh)
	assert.Equal(t, "client-card", card.Classes)
	assert.Empty(t, card.WarnIcon)

	stale := fresh
	stale.LastUpdate = nil
	stale.LastUpdateStr = "2023-11-01 08:00:00"
	card = b.card(stale)
	assert.Equal(t, "client-card stale", card.Classes)
	assert.Equal(t, " • ⏰", card.WarnIcon)
	assert.Equal(t, "01/11/2023 08:00:00", card.LastBackup, "Falls back to last_update_str")

	empty := upstream.Company{CompanyName: "Vazio"}
	card = b.card(empty)
	assert.Equal(t, timefmt.Placeholder, card.LastBackup)
	assert.Len(t, card.Dots, 2)
	assert.Equal(t, []pillView{{Class: "pill-warn", Text: "Sem replicação"}}, card.ReplPills)
	assert.Equal(t, timefmt.Placeholder, card.ReplLast)
	assert.False(t, card.HasHealth)

	noDisks := upstream.Company{Health: map[string]upstream.HostHealth{"pve1": {}}}
	assert.True(t, b.card(noDisks).NoDiskHealth)

	naive := fresh
	naive.Replication.Jobs = []upstream.ReplicationJob{{VMID: json.Number("101"), Status: "SUCCESS", LastSyncStr: "2023-11-14 19:13:20"}}
	card = b.card(naive)
	require.Len(t, card.ReplPills, 1)
	assert.Equal(t, "VM 101 (?) • SUCCESS • 14/11/2023 19:13:20", card.ReplPills[0].Tip, "Tooltip text is normalized")

	many := fresh
	many.Recent = append(many.Recent, fresh.Recent[0], fresh.Recent[0])
	assert.Len(t, b.card(many).Dots, 2, "Dots are capped at the configured count")
}

func TestSummaryPageStates(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		snap     poller.Snapshot
		want     string
		wantNot  string
		wantCard bool
	}{
		"First poll pending": {
			snap: poller.Snapshot{},
			want: "Carregando dados...",
		},
		"Upstream down before any data": {
			snap:    poller.Snapshot{LastError: "HTTP 502: bad gateway"},
			want:    "Erro ao carregar dados",
			wantNot: "Nenhum dado disponível",
		},
		"No companies": {
			snap: poller.Snapshot{FetchedAt: clock},
			want: "Nenhum dado disponível",
		},
		"Upstream down with cached data": {
			snap:     poller.Snapshot{FetchedAt: clock, LastError: "timeout", Companies: []upstream.Company{acme()}},
			want:     "Erro ao carregar dados",
			wantCard: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			mux := newDashboard(t, &fakeSnapshots{snap: tc.snap}, &fakeDetails{})
			rec, body := get(t, mux, "/")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, body, tc.want)
			if tc.wantNot != "" {
				assert.NotContains(t, body, tc.wantNot)
			}
			assert.Equal(t, tc.wantCard, strings.Contains(body, `class="client-card`))
		})
	}
}

func TestCompanyPage(t *testing.T) {
	t.Parallel()

	details := &fakeDetails{page: &upstream.RecentPage{
		Backups: []upstream.Backup{{
			ProxmoxHost:      "pve1",
			VMID:             json.Number("101"),
			VMName:           "db",
			Status:           "SUCCESS",
			StartTime:        json.Number("1699999000"),
			EndTime:          json.Number("1700000000"),
			DurationSeconds:  ptr(1000.0),
			WrittenSizeBytes: ptr(536870912.0),
			SpeedMBs:         ptr(12.5),
		}, {
			ProxmoxHost: "pve1",
			VMID:        json.Number("102"),
			Status:      "ERROR",
			EndTime:     "2023-11-13 03:00:00",
		}},
		Pagination: upstream.Pagination{TotalItems: 25, PerPage: 10, CurrentPage: 2, TotalPages: 3},
	}}
	snaps := &fakeSnapshots{snap: poller.Snapshot{Companies: []upstream.Company{acme()}, FetchedAt: clock}}

	rec, body := get(t, newDashboard(t, snaps, details), "/company/Acme?page=2")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "acme", details.company, "Upstream is addressed by company key")
	assert.Equal(t, 2, details.pageNo)
	assert.Equal(t, 10, details.perPage)

	assert.Contains(t, body, "Saúde do Armazenamento")
	assert.Contains(t, body, "(atualizado: 14/11/2023 19:00:00)")
	assert.Contains(t, body, `<span class="health-badge health-online">rpool: ONLINE</span>`)

	assert.Contains(t, body, `<td class="cell-dt" title="14/11/2023 21:56:40">14/11 21:56</td>`)
	assert.Contains(t, body, `<td class="cell-dt" title="13/11/2023 03:00:00">13/11 03:00</td>`)
	assert.Contains(t, body, "db (101)")
	assert.Contains(t, body, "ID: 102 (102)")
	assert.Contains(t, body, "N/D")
	assert.Contains(t, body, "0:16:40")
	assert.Contains(t, body, "0.50 GB")
	assert.Contains(t, body, "12.50 MB/s")
	assert.Contains(t, body, "❌")

	assert.Contains(t, body, "Página 2 de 3")
	assert.Contains(t, body, `<a id="prev-page" href="/company/Acme">Anterior</a>`)
	assert.Contains(t, body, `<a id="next-page" href="/company/Acme?page=3">Próximo</a>`)

	assert.Contains(t, body, "Replicação (últimos jobs)")
	assert.Contains(t, body, "<td>14/11/2023 22:15:00</td>", "Raw last_sync_str is rescanned")
	assert.Contains(t, body, `<td class="t-ok">SUCCESS</td>`)
}

func TestCompanyPageEdges(t *testing.T) {
	t.Parallel()

	t.Run("Unknown company without data", func(t *testing.T) {
		t.Parallel()

		details := &fakeDetails{page: &upstream.RecentPage{Pagination: upstream.Pagination{PerPage: 10, CurrentPage: 1}}}
		rec, body := get(t, newDashboard(t, &fakeSnapshots{}, details), "/company/Globex%20Corp?page=-4")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Globex Corp", details.company)
		assert.Equal(t, 1, details.pageNo, "Invalid pages fall back to the first")
		assert.Contains(t, body, "Nenhum dado para este cliente.")
		assert.NotContains(t, body, "Página")
	})

	t.Run("Last page disables next", func(t *testing.T) {
		t.Parallel()

		details := &fakeDetails{page: &upstream.RecentPage{
			Backups:    []upstream.Backup{{Status: "SUCCESS"}},
			Pagination: upstream.Pagination{TotalItems: 1, PerPage: 10, CurrentPage: 1, TotalPages: 1},
		}}
		_, body := get(t, newDashboard(t, &fakeSnapshots{}, details), "/company/acme")

		assert.Contains(t, body, `<a id="prev-page" href="/company/acme" class="disabled">Anterior</a>`)
		assert.Contains(t, body, `<a id="next-page" href="/company/acme" class="disabled">Próximo</a>`)
	})

	t.Run("Upstream error", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		details := &fakeDetails{err: errors.New("boom")}
		rec, body := get(t, newDashboard(t, &fakeSnapshots{}, details, WithMetrics(metrics.NewCollector(reg))), "/company/acme")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, body, "Erro ao carregar dados: boom")
		assert.Equal(t, 1, testutil.CollectAndCount(reg, "backup_dashboard_detail_fetches_total"))
	})
}

func TestSummariesAPI(t *testing.T) {
	t.Parallel()

	snaps := &fakeSnapshots{snap: poller.Snapshot{Companies: []upstream.Company{acme()}, FetchedAt: clock}}
	rec, body := get(t, newDashboard(t, snaps, &fakeDetails{}), "/api/summaries")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got struct {
		Companies []struct {
			CompanyName string `json:"company_name"`
			LastUpdate  int64  `json:"last_update"`
		} `json:"companies"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got.Companies, 1)
	assert.Equal(t, "Acme", got.Companies[0].CompanyName)
	assert.Equal(t, int64(1700000000), got.Companies[0].LastUpdate, "Raw epochs are passed through")
}

func TestRefreshAPI(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err        error
		wantStatus int
		wantBody   string
	}{
		"Refreshed": {wantStatus: http.StatusOK, wantBody: "refreshed"},
		"Throttled": {err: poller.ErrThrottled, wantStatus: http.StatusTooManyRequests, wantBody: "throttled"},
		"In flight": {err: poller.ErrInFlight, wantStatus: http.StatusConflict, wantBody: "in_flight"},
		"Upstream":  {err: errors.New("HTTP 500: boom"), wantStatus: http.StatusBadGateway, wantBody: "HTTP 500: boom"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			mux := newDashboard(t, &fakeSnapshots{refreshErr: tc.err}, &fakeDetails{})

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}

	rec, _ := get(t, newDashboard(t, &fakeSnapshots{}, &fakeDetails{}), "/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "Refresh is POST only")
}

func TestRegisterWrapsRoutes(t *testing.T) {
	t.Parallel()

	d := New(&fakeSnapshots{}, &fakeDetails{}, timefmt.New(time.UTC, 0), Settings{RecentDots: 1, PageSize: 10})

	var names []string
	d.Register(http.NewServeMux(), func(name string, h http.Handler) http.Handler {
		names = append(names, name)
		return h
	})

	assert.Equal(t, []string{"summary", "company", "api_summaries", "api_refresh"}, names)
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()

	snaps := &fakeSnapshots{snap: poller.Snapshot{Companies: []upstream.Company{acme()}, FetchedAt: clock}}
	details := &fakeDetails{page: &upstream.RecentPage{Pagination: upstream.Pagination{PerPage: 10, CurrentPage: 1}}}
	d := New(snaps, details, timefmt.New(time.UTC, 0), Settings{Title: "Antigo", RecentDots: 4, PageSize: 10},
		WithClock(func() time.Time { return clock }))
	mux := http.NewServeMux()
	d.Register(mux, nil)

	d.UpdateSettings(Settings{Title: "Novo", RecentDots: 6, PageSize: 10, StaleAfter: time.Hour, RefreshInterval: 30 * time.Second})
	d.UpdateNormalizer(timefmt.New(time.FixedZone("BRT", -3*3600), 0))

	_, body := get(t, mux, "/")
	assert.Contains(t, body, "<title>Novo</title>")
	assert.Contains(t, body, `<meta http-equiv="refresh" content="30"/>`)
	assert.Equal(t, 5, strings.Count(body, `title="sem dado"`))
	assert.Contains(t, body, "Última atualização: 14/11/2023 20:13:20", "Badge follows the configured zone")

	_, detail := get(t, mux, "/company/acme")
	assert.Contains(t, detail, `<meta http-equiv="refresh" content="30"/>`, "Detail page reloads too")
}

func TestFetchRecentSurvivesCancelledViewer(t *testing.T) {
	t.Parallel()

	details := &blockingDetails{started: make(chan struct{}), release: make(chan struct{})}
	d := New(&fakeSnapshots{}, details, timefmt.New(time.UTC, 0), Settings{RecentDots: 1, PageSize: 10})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := d.fetchRecent(first, "acme", 1, 10)
		firstErr <- err
	}()

	<-details.started
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled, "Cancelled viewer returns at once")

	secondDone := make(chan struct{})
	var page *upstream.RecentPage
	var err error
	go func() {
		defer close(secondDone)
		page, err = d.fetchRecent(context.Background(), "acme", 1, 10)
	}()

	close(details.release)
	<-secondDone

	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, 1, page.Pagination.CurrentPage)
	assert.Equal(t, "<nil>", details.ctxErr.Load(), "Shared fetch keeps running after the first viewer leaves")
}
