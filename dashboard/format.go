package dashboard

import (
	"fmt"
	"math"
	"strings"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// fmtBytes renders a byte count with binary units: "512 B", "1.50 GB".
func fmtBytes(b *float64) string {
	if b == nil || math.IsNaN(*b) {
		return "—"
	}
	x, i := *b, 0
	for x >= 1024 && i < len(byteUnits)-1 {
		x /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f %s", x, byteUnits[i])
	}
	return fmt.Sprintf("%.2f %s", x, byteUnits[i])
}

func fmtSpeed(x *float64) string {
	if x == nil || math.IsNaN(*x) || *x <= 0 {
		return "N/A MB/s"
	}
	return fmt.Sprintf("%.2f MB/s", *x)
}

// fmtGB is the "Escrito" column of the backups table.
func fmtGB(b *float64) string {
	if b == nil || math.IsNaN(*b) || *b == 0 {
		return "N/A GB"
	}
	return fmt.Sprintf("%.2f GB", *b/(1024*1024*1024))
}

// formatDuration renders seconds as H:MM:SS; hours are not wrapped.
func formatDuration(seconds *float64) string {
	if seconds == nil || math.IsNaN(*seconds) || *seconds < 0 {
		return "0:00:00"
	}
	s := int64(*seconds)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// vmLabel names a guest by VM name, falling back to its id.
func vmLabel(name string, vmid any) string {
	if name != "" {
		return name
	}
	return "ID: " + idString(vmid)
}

func idString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func statusIcon(status string) string {
	switch status {
	case "SUCCESS":
		return "✅"
	case "ERROR", "FAIL":
		return "❌"
	default:
		return "⚠️"
	}
}

// poolPillClass is the summary card pill class for a pool state.
func poolPillClass(status string) string {
	switch status {
	case "ONLINE":
		return "pill-ok"
	case "FAULTED", "OFFLINE", "UNAVAIL":
		return "pill-fail"
	default:
		return "pill-warn"
	}
}

// poolBadgeClass is the detail page badge class for a pool state.
func poolBadgeClass(status string) string {
	switch status {
	case "ONLINE":
		return "health-badge health-online"
	case "DEGRADED":
		return "health-badge health-degraded"
	case "FAULTED", "OFFLINE", "UNAVAIL":
		return "health-badge health-faulted"
	default:
		return "health-badge health-unknown"
	}
}

func poolStatus(status string) string {
	if status == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(status)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
