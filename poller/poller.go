// Package poller keeps the latest company snapshot fetched from upstream.
package poller

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/chilla55/backup-dashboard/metrics"
	"github.com/chilla55/backup-dashboard/upstream"
)

var (
	// ErrInFlight is returned when a refresh is already running.
	ErrInFlight = errors.New("refresh already in flight")
	// ErrThrottled is returned when the minimum refresh interval has not elapsed.
	ErrThrottled = errors.New("refresh throttled")
)

// Source fetches company summaries.
type Source interface {
	Companies(ctx context.Context, limit int) ([]upstream.Company, error)
}

// Settings control the polling cadence.
type Settings struct {
	Interval    time.Duration
	MinInterval time.Duration
	IdleAfter   time.Duration // 0 never pauses
	Limit       int           // recent backups requested per company
}

// Snapshot is the last known state of every company.
type Snapshot struct {
	Companies []upstream.Company `json:"companies"`
	FetchedAt time.Time          `json:"fetched_at"`
	CheckedAt time.Time          `json:"checked_at"`
	LastError string             `json:"last_error,omitempty"`
}

// Ready reports whether at least one poll has succeeded.
func (s Snapshot) Ready() bool {
	return !s.FetchedAt.IsZero()
}

// Poller refreshes the snapshot on an interval and on demand.
type Poller struct {
	src     Source
	metrics *metrics.Collector
	now     func() time.Time

	mu    sync.RWMutex
	snap  Snapshot
	hooks []func(Snapshot)

	settings atomic.Pointer[Settings]
	limiter  *rate.Limiter
	inFlight atomic.Bool

	lastSeen atomic.Int64 // unix nanos of the last page view
	idle     atomic.Bool
	wake     chan struct{}
	reset    chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithMetrics records polls on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Poller) {
		p.metrics = c
	}
}

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// New creates a poller. Nothing is fetched until Start or Refresh.
func New(src Source, s Settings, opts ...Option) *Poller {
	p := &Poller{
		src:     src,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(s.MinInterval), 1),
		wake:    make(chan struct{}, 1),
		reset:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.settings.Store(&s)
	p.lastSeen.Store(p.now().UnixNano())
	return p
}

// OnUpdate registers fn to be called after every poll that reached upstream.
func (p *Poller) OnUpdate(fn func(Snapshot)) {
	p.mu.Lock()
	p.hooks = append(p.hooks, fn)
	p.mu.Unlock()
}

// Settings returns the active polling settings.
func (p *Poller) Settings() Settings {
	return *p.settings.Load()
}

// UpdateSettings swaps the polling settings; the ticker restarts with the new interval.
func (p *Poller) UpdateSettings(s Settings) {
	p.settings.Store(&s)
	p.limiter.SetLimit(rate.Every(s.MinInterval))
	select {
	case p.reset <- struct{}{}:
	default:
	}
	log.Info().
		Dur("interval", s.Interval).
		Dur("min_interval", s.MinInterval).
		Dur("idle_after", s.IdleAfter).
		Msg("Polling settings updated")
}

// Snapshot returns a copy of the current snapshot.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := p.snap
	snap.Companies = append([]upstream.Company(nil), p.snap.Companies...)
	return snap
}

// Company looks up a company by display name or key.
func (p *Poller) Company(name string) (upstream.Company, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, c := range p.snap.Companies {
		if c.CompanyName == name || c.Key() == name {
			return c, true
		}
	}
	return upstream.Company{}, false
}

// Touch marks a page view. A poller that went idle refreshes right away.
func (p *Poller) Touch() {
	p.lastSeen.Store(p.now().UnixNano())
	if p.idle.CompareAndSwap(true, false) {
		log.Debug().Msg("Viewer returned, resuming polls")
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Idle reports whether nobody has viewed the dashboard for IdleAfter.
func (p *Poller) Idle() bool {
	idleAfter := p.Settings().IdleAfter
	if idleAfter <= 0 {
		return false
	}
	return p.now().Sub(time.Unix(0, p.lastSeen.Load())) > idleAfter
}

// Start polls until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.reset:
			ticker.Reset(p.interval())
		case <-p.wake:
			p.poll(ctx)
		case <-ticker.C:
			if p.Idle() {
				if !p.idle.Swap(true) {
					log.Debug().Msg("No viewers, pausing polls")
				}
				p.skipped(metrics.SkipIdle)
				continue
			}
			p.poll(ctx)
		}
	}
}

func (p *Poller) interval() time.Duration {
	if d := p.Settings().Interval; d > 0 {
		return d
	}
	return 30 * time.Second
}

func (p *Poller) poll(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil && !errors.Is(err, ErrThrottled) && !errors.Is(err, ErrInFlight) {
		log.Warn().Err(err).Msg("Poll failed, serving last good snapshot")
	}
}

// Refresh fetches a new snapshot unless one was fetched less than
// MinInterval ago or another refresh is running.
func (p *Poller) Refresh(ctx context.Context) error {
	if !p.limiter.Allow() {
		p.skipped(metrics.SkipThrottled)
		return ErrThrottled
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped(metrics.SkipInFlight)
		return ErrInFlight
	}
	defer p.inFlight.Store(false)

	start := time.Now()
	companies, err := p.src.Companies(ctx, p.Settings().Limit)
	duration := time.Since(start)

	if errors.Is(err, context.Canceled) {
		return err
	}
	if p.metrics != nil {
		p.metrics.ObservePoll(duration, len(companies), err)
	}

	p.mu.Lock()
	p.snap.CheckedAt = p.now()
	if err != nil {
		p.snap.LastError = err.Error()
	} else {
		p.snap.Companies = companies
		p.snap.FetchedAt = p.snap.CheckedAt
		p.snap.LastError = ""
	}
	hooks := slices.Clone(p.hooks)
	p.mu.Unlock()

	if err == nil {
		log.Debug().
			Int("companies", len(companies)).
			Dur("duration", duration).
			Msg("Snapshot refreshed")
		if p.metrics != nil {
			p.publishCompanyMetrics(companies)
		}
	}

	snap := p.Snapshot()
	for _, fn := range hooks {
		fn(snap)
	}

	return err
}

func (p *Poller) publishCompanyMetrics(companies []upstream.Company) {
	p.metrics.ResetCompanyBackups()
	for _, c := range companies {
		p.metrics.SetCompanyBackups(c.Key(), c.Stats24h.OK, c.Stats24h.Fail)
	}
}

func (p *Poller) skipped(reason string) {
	if p.metrics != nil {
		p.metrics.PollSkipped(reason)
	}
}
