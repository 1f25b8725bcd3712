package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, evidenceDir string, threshold int) {
	t.Helper()
	yml := `
app:
  evidence_dir: ` + evidenceDir + `
debounce:
  threshold: ` + itoa(threshold) + `
  timeout: 10s
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestWatcherDetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aegis.yaml")
	writeConfigFile(t, path, "/tmp/evidence", 3)

	var (
		mu      sync.Mutex
		changes int
	)
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		changes++
		mu.Unlock()
		if old.Debounce.Threshold != 3 || new.Debounce.Threshold != 5 {
			t.Errorf("onChange thresholds = %d -> %d, want 3 -> 5", old.Debounce.Threshold, new.Debounce.Threshold)
		}
	}, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if w.Current().Debounce.Threshold != 3 {
		t.Fatalf("initial threshold = %d, want 3", w.Current().Debounce.Threshold)
	}

	// Touch the mtime forward explicitly; some filesystems are coarse.
	writeConfigFile(t, path, "/tmp/evidence", 5)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for w.Current().Debounce.Threshold != 5 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never picked up the change")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if changes != 1 {
		t.Errorf("onChange called %d times, want 1", changes)
	}
}

func TestWatcherKeepsOldConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aegis.yaml")
	writeConfigFile(t, path, "/tmp/evidence", 3)

	w, err := NewWatcher(path, nil, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// An edit that fails validation must not replace the current config.
	if err := os.WriteFile(path, []byte("app:\n  log_level: loud\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if got := w.Current().Debounce.Threshold; got != 3 {
		t.Errorf("threshold = %d after invalid edit, want 3", got)
	}
}

func TestNewWatcherFailsOnMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("NewWatcher accepted a missing file")
	}
}
