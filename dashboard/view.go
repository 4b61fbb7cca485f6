package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chilla55/backup-dashboard/timefmt"
	"github.com/chilla55/backup-dashboard/upstream"
)

type dotView struct {
	Class string
	Tip   string
}

type pillView struct {
	Class string
	Tip   string
	Text  string
}

type cardView struct {
	Name         string
	DetailURL    string
	Classes      string
	LastBackup   string
	WarnIcon     string
	Dots         []dotView
	OK           int
	Fail         int
	Total        int
	ReplPills    []pillView
	ReplLast     string
	HealthPills  []pillView
	HasHealth    bool
	NoDiskHealth bool
}

type summaryView struct {
	Title     string
	UpdatedAt string
	Refresh   int
	Cards     []cardView
	Loading   bool
	Error     string
}

type badgeView struct {
	Class string
	Text  string
}

type hostView struct {
	Host       string
	ReceivedAt string
	Badges     []badgeView
}

type backupRow struct {
	Icon      string
	Status    string
	Host      string
	VM        string
	Target    string
	StartFull string
	Start     string
	EndFull   string
	End       string
	Duration  string
	Written   string
	Speed     string
}

type replRow struct {
	VMID        string
	Name        string
	Source      string
	Target      string
	LastSync    string
	DurationSec string
	Fails       string
	Status      string
	Class       string
}

type pageLink struct {
	URL      string
	Disabled bool
}

type detailView struct {
	Title       string
	UpdatedAt   string
	Refresh     int
	Company     string
	Hosts       []hostView
	Backups     []backupRow
	Page        int
	TotalPages  int
	Prev        pageLink
	Next        pageLink
	Replication []replRow
	Empty       bool
	Error       string
}

// viewBuilder turns upstream data into template-ready strings.
type viewBuilder struct {
	n          *timefmt.Normalizer
	now        time.Time
	recentDots int
	staleAfter time.Duration
}

func (v viewBuilder) card(c upstream.Company) cardView {
	recent := c.Recent
	if len(recent) > v.recentDots {
		recent = recent[:v.recentDots]
	}

	card := cardView{
		Name:      orDefault(c.CompanyName, "—"),
		DetailURL: companyURL(c.CompanyName, 1),
		Classes:   "client-card",
		OK:        c.Stats24h.OK,
		Fail:      c.Stats24h.Fail,
		Total:     c.Stats24h.Total,
	}

	for _, b := range recent {
		class := "fail"
		if b.Succeeded() {
			class = "success"
		}
		tip := strings.Join([]string{
			vmLabel(b.VMName, b.VMID),
			b.Status,
			v.n.Display(b.EndTime),
			"escrito " + fmtBytes(b.WrittenSizeBytes),
		}, " • ")
		card.Dots = append(card.Dots, dotView{Class: class, Tip: tip})
	}
	for i := len(recent); i < v.recentDots; i++ {
		card.Dots = append(card.Dots, dotView{Class: "warn", Tip: "sem dado"})
	}

	failed := c.LastBackupFailed()
	stale := c.Stale(v.n, v.now, v.staleAfter)
	switch {
	case failed:
		card.Classes += " error"
		card.WarnIcon = " • ⚠"
	case stale:
		card.Classes += " stale"
		card.WarnIcon = " • ⏰"
	}

	card.LastBackup = v.n.Display(c.LastUpdate)
	if card.LastBackup == timefmt.Placeholder && c.LastUpdateStr != "" {
		card.LastBackup = v.n.Display(c.LastUpdateStr)
	}

	card.ReplPills, card.ReplLast = v.replication(c.Replication)
	card.HasHealth = len(c.Health) > 0
	card.HealthPills = healthPills(c.Health)
	card.NoDiskHealth = card.HasHealth && len(card.HealthPills) == 0

	return card
}

func (v viewBuilder) replication(r upstream.Replication) ([]pillView, string) {
	var pills []pillView
	for _, j := range r.Jobs {
		class := "pill-fail"
		if j.Status == upstream.StatusSuccess {
			class = "pill-ok"
		}
		// Tooltips are attributes, which the page rescan does not reach.
		last := v.n.Display(j.LastSync)
		if last == timefmt.Placeholder && j.LastSyncStr != "" {
			last = v.n.Display(j.LastSyncStr)
		}
		vmid := idString(j.VMID)
		pills = append(pills, pillView{
			Class: class,
			Tip:   fmt.Sprintf("VM %s (%s) • %s • %s", vmid, orDefault(j.VMName, "?"), j.Status, last),
			Text:  fmt.Sprintf("VM %s: %s", vmid, j.Status),
		})
	}
	if len(pills) == 0 {
		pills = append(pills, pillView{Class: "pill-warn", Text: "Sem replicação"})
	}

	last := v.n.Display(r.LastSync)
	if last == timefmt.Placeholder {
		last = orDefault(r.LastSyncStr, timefmt.Placeholder)
	}
	return pills, last
}

// healthPills numbers pools then SMART disks across hosts, hosts in name order.
func healthPills(health map[string]upstream.HostHealth) []pillView {
	var pills []pillView
	n := 1
	for _, host := range sortedHosts(health) {
		h := health[host]
		for _, p := range h.Pools {
			status := poolStatus(p.Status)
			pills = append(pills, pillView{
				Class: poolPillClass(status),
				Tip:   fmt.Sprintf("Host: %s • Pool: %s • Status: %s", host, orDefault(p.Name, "?"), status),
				Text:  fmt.Sprintf("DISK %d: %s", n, status),
			})
			n++
		}
		for _, d := range h.Disks {
			class, state := "pill-warn", "FALHA"
			if d.SmartOK != nil {
				if *d.SmartOK {
					class, state = "pill-ok", "OK"
				} else {
					class = "pill-fail"
				}
			}
			pills = append(pills, pillView{
				Class: class,
				Tip:   fmt.Sprintf("Host: %s • Disco: %s • SMART: %s", host, orDefault(d.Name, "?"), state),
				Text:  fmt.Sprintf("Disk %d: %s", n, state),
			})
			n++
		}
	}
	return pills
}

func (v viewBuilder) hosts(health map[string]upstream.HostHealth) []hostView {
	var out []hostView
	for _, host := range sortedHosts(health) {
		h := health[host]
		hv := hostView{Host: host, ReceivedAt: v.n.Received(h.ReceivedAt)}
		for _, p := range h.Pools {
			status := poolStatus(p.Status)
			hv.Badges = append(hv.Badges, badgeView{
				Class: poolBadgeClass(status),
				Text:  orDefault(p.Name, "?") + ": " + status,
			})
		}
		out = append(out, hv)
	}
	return out
}

func (v viewBuilder) backup(b upstream.Backup) backupRow {
	return backupRow{
		Icon:      statusIcon(b.Status),
		Status:    b.Status,
		Host:      b.ProxmoxHost,
		VM:        fmt.Sprintf("%s (%s)", vmLabel(b.VMName, b.VMID), idString(b.VMID)),
		Target:    orDefault(b.StorageTarget, "N/D"),
		StartFull: v.n.Display(b.StartTime),
		Start:     v.n.DisplayShort(b.StartTime),
		EndFull:   v.n.Display(b.EndTime),
		End:       v.n.DisplayShort(b.EndTime),
		Duration:  formatDuration(b.DurationSeconds),
		Written:   fmtGB(b.WrittenSizeBytes),
		Speed:     fmtSpeed(b.SpeedMBs),
	}
}

func (v viewBuilder) replicationRows(r upstream.Replication) []replRow {
	var rows []replRow
	for _, j := range r.Jobs {
		last := j.LastSyncStr
		if last == "" {
			last = v.n.Display(j.LastSync)
		}
		class := "t-err"
		if strings.EqualFold(j.Status, upstream.StatusSuccess) {
			class = "t-ok"
		}
		duration := ""
		if j.DurationSec != nil {
			duration = fmt.Sprintf("%g", *j.DurationSec)
		}
		fails := "0"
		if j.FailCount != nil {
			fails = fmt.Sprint(*j.FailCount)
		}
		rows = append(rows, replRow{
			VMID:        idString(j.VMID),
			Name:        j.VMName,
			Source:      j.SourceNode,
			Target:      j.TargetNode,
			LastSync:    last,
			DurationSec: duration,
			Fails:       fails,
			Status:      j.Status,
			Class:       class,
		})
	}
	return rows
}

func sortedHosts(health map[string]upstream.HostHealth) []string {
	hosts := make([]string, 0, len(health))
	for host := range health {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
