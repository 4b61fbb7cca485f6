// Package alerts turns snapshot changes into webhook notifications.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chilla55/backup-dashboard/metrics"
	"github.com/chilla55/backup-dashboard/poller"
	"github.com/chilla55/backup-dashboard/timefmt"
	"github.com/chilla55/backup-dashboard/upstream"
	"github.com/chilla55/backup-dashboard/webhook"
)

// Sender delivers an alert.
type Sender interface {
	Send(ctx context.Context, alert webhook.Alert) error
}

// Evaluator remembers which problems were already reported and raises an
// alert only when something newly goes wrong (or recovers).
type Evaluator struct {
	sender     Sender
	metrics    *metrics.Collector
	normalizer atomic.Pointer[timefmt.Normalizer]
	now        func() time.Time
	staleAfter atomic.Int64

	mu           sync.Mutex
	upstreamDown bool
	failedBackup map[string]string // company -> identity of the failed backup already reported
	stale        map[string]bool
	problems     map[string]bool // replication/pool/disk keys currently failing

	wg sync.WaitGroup
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMetrics counts raised alerts on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Evaluator) {
		e.metrics = c
	}
}

// WithClock replaces time.Now for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// New creates an Evaluator.
func New(sender Sender, n *timefmt.Normalizer, staleAfter time.Duration, opts ...Option) *Evaluator {
	e := &Evaluator{
		sender:       sender,
		now:          time.Now,
		failedBackup: make(map[string]string),
		stale:        make(map[string]bool),
		problems:     make(map[string]bool),
	}
	e.normalizer.Store(n)
	e.staleAfter.Store(int64(staleAfter))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetStaleAfter changes the staleness threshold.
func (e *Evaluator) SetStaleAfter(d time.Duration) {
	e.staleAfter.Store(int64(d))
}

// UpdateNormalizer swaps the time zone and naive offset used in alert fields.
func (e *Evaluator) UpdateNormalizer(n *timefmt.Normalizer) {
	e.normalizer.Store(n)
}

// Observe evaluates snap and sends the resulting alerts in the background.
// It is meant to be registered with poller.OnUpdate.
func (e *Evaluator) Observe(snap poller.Snapshot) {
	alerts := e.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, alert := range alerts {
			if err := e.sender.Send(ctx, alert); err != nil {
				log.Warn().
					Err(err).
					Str("event", string(alert.Event)).
					Str("subject", alert.Subject).
					Msg("Failed to deliver alert")
			}
		}
	}()
}

// Wait blocks until background deliveries finish.
func (e *Evaluator) Wait() {
	e.wg.Wait()
}

// Evaluate updates the remembered state from snap and returns new alerts.
func (e *Evaluator) Evaluate(snap poller.Snapshot) []webhook.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []webhook.Alert
	raise := func(a webhook.Alert) {
		a.Timestamp = e.now()
		out = append(out, a)
		if e.metrics != nil {
			e.metrics.AlertRaised(string(a.Event))
		}
	}

	if snap.LastError != "" {
		if !e.upstreamDown {
			e.upstreamDown = true
			raise(webhook.Alert{
				Event:       webhook.EventUpstreamDown,
				Subject:     "upstream",
				Title:       "API de monitoramento indisponível",
				Description: snap.LastError,
				Severity:    "error",
			})
		}
		// The companies are from the last good poll; nothing new to judge.
		return out
	}
	e.upstreamDown = false

	now := e.now()
	staleAfter := time.Duration(e.staleAfter.Load())
	seen := make(map[string]bool)

	for _, c := range snap.Companies {
		name := c.Key()
		e.checkBackup(c, raise)

		stale := c.Stale(e.normalizer.Load(), now, staleAfter)
		if stale && !e.stale[name] {
			raise(webhook.Alert{
				Event:       webhook.EventBackupStale,
				Subject:     name,
				Title:       fmt.Sprintf("%s: sem backup recente", c.CompanyName),
				Description: fmt.Sprintf("Nenhum backup concluído nas últimas %s.", staleAfter),
				Severity:    "warning",
				Fields:      map[string]string{"Último backup": e.lastUpdate(c)},
			})
		}
		e.stale[name] = stale

		for _, job := range c.Replication.Jobs {
			key := fmt.Sprintf("repl/%s/%v/%s/%s", name, job.VMID, job.SourceNode, job.TargetNode)
			seen[key] = true
			failing := !strings.EqualFold(job.Status, upstream.StatusSuccess)
			if failing && !e.problems[key] {
				raise(webhook.Alert{
					Event:    webhook.EventReplicationFailed,
					Subject:  name,
					Title:    fmt.Sprintf("%s: replicação da VM %v falhou", c.CompanyName, job.VMID),
					Severity: "error",
					Fields: map[string]string{
						"VM":        job.VMName,
						"Origem":    job.SourceNode,
						"Destino":   job.TargetNode,
						"Status":    job.Status,
						"Últ. sync": e.normalizer.Load().Display(job.LastSync),
						"Falhas":    failCount(job),
					},
				})
			}
			e.problems[key] = failing
		}

		for host, h := range c.Health {
			for _, pool := range h.Pools {
				key := fmt.Sprintf("pool/%s/%s/%s", name, host, pool.Name)
				seen[key] = true
				status := strings.ToUpper(pool.Status)
				degraded := status != "ONLINE"
				if degraded && !e.problems[key] {
					raise(webhook.Alert{
						Event:    webhook.EventPoolDegraded,
						Subject:  name,
						Title:    fmt.Sprintf("%s: pool %s em %s", c.CompanyName, pool.Name, status),
						Severity: poolSeverity(status),
						Fields: map[string]string{
							"Host":       host,
							"Pool":       pool.Name,
							"Status":     status,
							"Atualizado": e.normalizer.Load().Received(h.ReceivedAt),
						},
					})
				}
				e.problems[key] = degraded
			}
			for _, disk := range h.Disks {
				key := fmt.Sprintf("disk/%s/%s/%s", name, host, disk.Name)
				seen[key] = true
				failing := disk.SmartOK != nil && !*disk.SmartOK
				if failing && !e.problems[key] {
					raise(webhook.Alert{
						Event:    webhook.EventDiskSmartFailed,
						Subject:  name,
						Title:    fmt.Sprintf("%s: SMART falhou em %s", c.CompanyName, disk.Name),
						Severity: "critical",
						Fields:   map[string]string{"Host": host, "Disco": disk.Name},
					})
				}
				e.problems[key] = failing
			}
		}
	}

	for key := range e.problems {
		if !seen[key] {
			delete(e.problems, key)
		}
	}

	return out
}

func (e *Evaluator) checkBackup(c upstream.Company, raise func(webhook.Alert)) {
	name := c.Key()
	b, ok := c.LastBackup()
	if !ok {
		return
	}

	if b.Succeeded() {
		if _, wasFailing := e.failedBackup[name]; wasFailing {
			delete(e.failedBackup, name)
			raise(webhook.Alert{
				Event:    webhook.EventBackupRecovered,
				Subject:  name,
				Title:    fmt.Sprintf("%s: backup normalizado", c.CompanyName),
				Severity: "info",
				Fields:   backupFields(e.normalizer.Load(), b),
			})
		}
		return
	}

	identity := fmt.Sprintf("%v/%v/%v", b.ID, b.VMID, b.EndTime)
	if e.failedBackup[name] == identity {
		return
	}
	e.failedBackup[name] = identity

	raise(webhook.Alert{
		Event:       webhook.EventBackupFailed,
		Subject:     name,
		Title:       fmt.Sprintf("%s: backup com falha", c.CompanyName),
		Description: fmt.Sprintf("O último backup terminou com status %s.", b.Status),
		Severity:    "error",
		Fields:      backupFields(e.normalizer.Load(), b),
	})
}

func (e *Evaluator) lastUpdate(c upstream.Company) string {
	n := e.normalizer.Load()
	if s := n.Display(c.LastUpdate); s != timefmt.Placeholder {
		return s
	}
	return n.Display(c.LastUpdateStr)
}

func backupFields(n *timefmt.Normalizer, b upstream.Backup) map[string]string {
	vm := b.VMName
	if vm == "" {
		vm = fmt.Sprintf("ID: %v", b.VMID)
	}
	return map[string]string{
		"Host":    b.ProxmoxHost,
		"VM":      vm,
		"Status":  b.Status,
		"Destino": b.StorageTarget,
		"Fim":     n.Display(b.EndTime),
	}
}

func failCount(job upstream.ReplicationJob) string {
	if job.FailCount == nil {
		return "0"
	}
	return fmt.Sprint(*job.FailCount)
}

func poolSeverity(status string) string {
	switch status {
	case "FAULTED", "OFFLINE", "UNAVAIL":
		return "critical"
	default:
		return "warning"
	}
}
