package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chilla55/backup-dashboard/config"
)

const validYAML = `upstream:
  url: http://monitor.local:5000
display:
  recent_dots: 6
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	writeFile(t, path, validYAML)

	var got *config.Config
	w := NewConfigWatcher(path, func(cfg *config.Config) { got = cfg })
	w.cooldown = 0

	if !w.Reload() {
		t.Fatal("expected reload to succeed")
	}
	if got == nil || got.Display.RecentDots != 6 {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestReloadKeepsConfigOnError(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid yaml", "upstream: [not, a, map"},
		{"fails validation", "upstream:\n  url: ftp://monitor\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dashboard.yaml")
			writeFile(t, path, tt.content)

			calls := 0
			w := NewConfigWatcher(path, func(*config.Config) { calls++ })
			w.cooldown = 0

			if w.Reload() {
				t.Error("expected reload to fail")
			}
			if calls != 0 {
				t.Errorf("callback should not run, ran %d times", calls)
			}
		})
	}
}

func TestReloadCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	writeFile(t, path, validYAML)

	calls := 0
	w := NewConfigWatcher(path, func(*config.Config) { calls++ })
	w.cooldown = time.Hour

	w.Reload()
	w.Reload()
	if calls != 1 {
		t.Errorf("expected 1 reload within cooldown, got %d", calls)
	}
}

func TestStartReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dashboard.yaml")
	writeFile(t, path, validYAML)

	var calls int32
	w := NewConfigWatcher(path, func(*config.Config) { atomic.AddInt32(&calls, 1) })
	w.debounce = 10 * time.Millisecond
	w.cooldown = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// Unrelated files in the same directory are ignored
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		writeFile(t, filepath.Join(dir, "other.yaml"), validYAML)
		writeFile(t, path, validYAML)
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if atomic.LoadInt32(&calls) == 0 {
		t.Error("expected a reload after the file was written")
	}
}

func TestRelevant(t *testing.T) {
	w := NewConfigWatcher("/etc/dashboard/dashboard.yaml", func(*config.Config) {})

	if !w.relevant(fsnotify.Event{Name: "/etc/dashboard/dashboard.yaml", Op: fsnotify.Write}) {
		t.Error("write to the config file should be relevant")
	}
	if w.relevant(fsnotify.Event{Name: "/etc/dashboard/dashboard.yaml", Op: fsnotify.Chmod}) {
		t.Error("chmod should be ignored")
	}
	if w.relevant(fsnotify.Event{Name: "/etc/dashboard/other.yaml", Op: fsnotify.Write}) {
		t.Error("other files should be ignored")
	}
}
