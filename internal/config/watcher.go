package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and hands the [Diff] of every valid edit to a
// callback. An edit that fails to parse or validate is logged and the
// previous config stays current, so the callback only ever sees a config
// the server could also have started with.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(ConfigDiff)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	done chan struct{}
	stop sync.Once
}

// fileStamp identifies one version of the file on disk.
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. apply is called from the
// polling goroutine with the difference between the previous and the new
// config whenever that difference is non-empty; apply may be nil.
func NewWatcher(path string, apply func(ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		apply:    apply,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp

	go w.run()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stop.Do(func() { close(w.done) })
}

// Reload re-reads the file regardless of its modification time, applies the
// difference and returns it. A file that no longer loads is returned as an
// error and leaves the current config in place.
func (w *Watcher) Reload() (ConfigDiff, error) {
	cfg, stamp, err := w.read()
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: reload %s: %w", w.path, err)
	}
	return w.swap(cfg, stamp), nil
}

func (w *Watcher) run() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.poll()
		}
	}
}

// poll skips the read while the modification time is unchanged.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watch: stat failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.stamp.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, stamp, err := w.read()
	if err != nil {
		slog.Warn("config: watch: keeping previous config", "path", w.path, "err", err)
		return
	}
	w.swap(cfg, stamp)
}

// swap installs cfg when its content differs from the current one and calls
// apply outside the lock.
func (w *Watcher) swap(cfg *Config, stamp fileStamp) ConfigDiff {
	w.mu.Lock()
	if stamp.sum == w.stamp.sum {
		w.stamp.mtime = stamp.mtime
		w.mu.Unlock()
		return ConfigDiff{}
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Changed() {
		return d
	}
	slog.Info("config: reloaded", "path", w.path,
		"log_level", d.LogLevelChanged,
		"noise_suppression", d.NoiseSuppressionChanged,
		"allowed_origins", d.AllowedOriginsChanged,
		"restart_required", d.RestartRequired)
	if w.apply != nil {
		w.apply(d)
	}
	return d
}

func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
