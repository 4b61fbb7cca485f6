// Package dashboard renders the backup summary grid and company detail pages.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/chilla55/backup-dashboard/metrics"
	"github.com/chilla55/backup-dashboard/poller"
	"github.com/chilla55/backup-dashboard/timefmt"
	"github.com/chilla55/backup-dashboard/tracing"
	"github.com/chilla55/backup-dashboard/upstream"
)

const detailFetchTimeout = 30 * time.Second

// SnapshotSource provides the cached company snapshot.
type SnapshotSource interface {
	Snapshot() poller.Snapshot
	Company(name string) (upstream.Company, bool)
	Refresh(ctx context.Context) error
	Touch()
}

// DetailSource fetches paginated backup history.
type DetailSource interface {
	CompanyRecent(ctx context.Context, company string, page, perPage int) (*upstream.RecentPage, error)
}

// Settings control what the pages show.
type Settings struct {
	Title           string
	RecentDots      int
	StaleAfter      time.Duration
	PageSize        int
	RefreshInterval time.Duration // browser reload cadence; 0 disables it
}

// Dashboard serves the HTML pages and the JSON snapshot.
type Dashboard struct {
	snapshots  SnapshotSource
	details    DetailSource
	normalizer atomic.Pointer[timefmt.Normalizer]
	settings   atomic.Pointer[Settings]
	metrics    *metrics.Collector
	group      singleflight.Group
	now        func() time.Time
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithMetrics counts detail fetches on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dashboard) {
		d.metrics = c
	}
}

// WithClock replaces time.Now for staleness and the "last update" badge.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) {
		d.now = now
	}
}

// New creates a Dashboard.
func New(snapshots SnapshotSource, details DetailSource, n *timefmt.Normalizer, s Settings, opts ...Option) *Dashboard {
	d := &Dashboard{
		snapshots: snapshots,
		details:   details,
		now:       time.Now,
	}
	d.normalizer.Store(n)
	d.settings.Store(&s)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// UpdateSettings swaps the presentation settings.
func (d *Dashboard) UpdateSettings(s Settings) {
	d.settings.Store(&s)
}

// UpdateNormalizer swaps the time zone and naive offset used for display.
func (d *Dashboard) UpdateNormalizer(n *timefmt.Normalizer) {
	d.normalizer.Store(n)
}

// Register adds the dashboard routes to mux. wrap decorates every route
// handler, e.g. with per-route metrics.
func (d *Dashboard) Register(mux *http.ServeMux, wrap func(name string, h http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(_ string, h http.Handler) http.Handler { return h }
	}

	summary := wrap("summary", http.HandlerFunc(d.handleSummary))
	mux.Handle("GET /{$}", summary)
	mux.Handle("GET /backups", summary)
	mux.Handle("GET /company/{name}", wrap("company", http.HandlerFunc(d.handleCompany)))
	mux.Handle("GET /api/summaries", wrap("api_summaries", http.HandlerFunc(d.handleSummariesAPI)))
	mux.Handle("POST /api/refresh", wrap("api_refresh", http.HandlerFunc(d.handleRefresh)))

	log.Info().Msg("Dashboard routes registered")
}

func (d *Dashboard) builder() viewBuilder {
	s := d.settings.Load()
	return viewBuilder{
		n:          d.normalizer.Load(),
		now:        d.now(),
		recentDots: s.RecentDots,
		staleAfter: s.StaleAfter,
	}
}

func (d *Dashboard) updatedAt() string {
	n := d.normalizer.Load()
	return timefmt.FormatFull(timefmt.InstantOf(d.now().In(n.Location())))
}

// handleSummary serves the company card grid
func (d *Dashboard) handleSummary(w http.ResponseWriter, r *http.Request) {
	d.snapshots.Touch()

	s := d.settings.Load()
	snap := d.snapshots.Snapshot()
	b := d.builder()

	view := summaryView{
		Title:     s.Title,
		UpdatedAt: d.updatedAt(),
		Refresh:   int(s.RefreshInterval / time.Second),
		Loading:   !snap.Ready() && snap.LastError == "",
		Error:     snap.LastError,
	}
	for _, c := range snap.Companies {
		view.Cards = append(view.Cards, b.card(c))
	}

	d.render(w, r, summaryPage, http.StatusOK, view)
}

// handleCompany serves the detail page of one company
func (d *Dashboard) handleCompany(w http.ResponseWriter, r *http.Request) {
	d.snapshots.Touch()

	name := r.PathValue("name")
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	s := d.settings.Load()
	b := d.builder()
	view := detailView{
		Title:     s.Title,
		UpdatedAt: d.updatedAt(),
		Refresh:   int(s.RefreshInterval / time.Second),
		Company:   name,
	}

	company, known := d.snapshots.Company(name)
	key := name
	if known {
		key = company.Key()
	}

	result, err := d.fetchRecent(r.Context(), key, page, s.PageSize)
	if err != nil {
		log.Warn().
			Err(err).
			Str("request_id", tracing.GetRequestID(r.Context())).
			Str("company", name).
			Int("page", page).
			Msg("Failed to load company detail")
		view.Error = err.Error()
		d.render(w, r, detailPage, http.StatusBadGateway, view)
		return
	}

	if known {
		view.Hosts = b.hosts(company.Health)
		view.Replication = b.replicationRows(company.Replication)
	}
	for _, backup := range result.Backups {
		view.Backups = append(view.Backups, b.backup(backup))
	}

	p := result.Pagination
	view.Page = p.CurrentPage
	view.TotalPages = p.TotalPages
	view.Prev = pageLink{URL: companyURL(name, max(p.CurrentPage-1, 1)), Disabled: p.CurrentPage <= 1}
	view.Next = pageLink{URL: companyURL(name, min(p.CurrentPage+1, max(p.TotalPages, 1))), Disabled: p.CurrentPage >= p.TotalPages}
	view.Empty = len(view.Backups) == 0 && len(view.Hosts) == 0

	d.render(w, r, detailPage, http.StatusOK, view)
}

// fetchRecent collapses concurrent requests for the same page into one
// upstream call. The shared call outlives any single viewer; each caller
// only stops waiting when its own ctx is done.
func (d *Dashboard) fetchRecent(ctx context.Context, company string, page, perPage int) (*upstream.RecentPage, error) {
	key := fmt.Sprintf("%s|%d|%d", company, page, perPage)
	ch := d.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detailFetchTimeout)
		defer cancel()

		res, err := d.details.CompanyRecent(fetchCtx, company, page, perPage)
		if d.metrics != nil {
			d.metrics.DetailFetched(err)
		}
		return res, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			log.Debug().Str("company", company).Int("page", page).Msg("Shared in-flight detail fetch")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*upstream.RecentPage), nil
	}
}

// handleSummariesAPI returns the cached snapshot as JSON
func (d *Dashboard) handleSummariesAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.snapshots.Snapshot())
}

// handleRefresh forces a poll, subject to the same throttle as scheduled ones
func (d *Dashboard) handleRefresh(w http.ResponseWriter, r *http.Request) {
	d.snapshots.Touch()

	err := d.snapshots.Refresh(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
	case errors.Is(err, poller.ErrThrottled):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "throttled"})
	case errors.Is(err, poller.ErrInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "in_flight"})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "error": err.Error()})
	}
}

// render executes tmpl, rescans the document's text for embedded
// timestamps and writes the result.
func (d *Dashboard) render(w http.ResponseWriter, r *http.Request, tmpl *template.Template, status int, data any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		d.renderError(w, r, err)
		return
	}

	var out bytes.Buffer
	if err := d.normalizer.Load().RescanDocument(&buf, &out); err != nil {
		d.renderError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(out.Bytes())
}

func (d *Dashboard) renderError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().
		Err(err).
		Str("request_id", tracing.GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("Failed to render page")
	http.Error(w, "Erro ao carregar dados", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode JSON response")
	}
}

func companyURL(name string, page int) string {
	u := "/company/" + url.PathEscape(name)
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	return u
}
