package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"jobloop/pkg/logx"
)

// Manager owns the config file: strict parsing, the last good value and
// change notifications for long-running commands.
type Manager struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	lastJSON []byte

	// subsMu is held while sending so Unsubscribe never closes a channel
	// that publish is writing to.
	subsMu sync.Mutex
	subs   []chan *Config

	debounce time.Duration
}

// NewManager returns a manager for path. An empty path means "no file":
// Load returns an empty Config and Watch returns immediately.
func NewManager(path string) *Manager {
	return &Manager{path: path, debounce: 250 * time.Millisecond}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

func (m *Manager) Path() string { return m.path }

// Parse reads and strictly decodes the file. Unknown fields and trailing
// data are errors.
func (m *Manager) Parse() (*Config, error) {
	if m.path == "" {
		return &Config{}, nil
	}
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, b)
}

func decode(path string, b []byte) (*Config, error) {
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%s: trailing data after config object", path)
	}
	return &cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// commit stores cfg and reports whether it differs from the previous value.
func (m *Manager) commit(cfg *Config) bool {
	b, _ := json.Marshal(cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.cfg == nil || !bytes.Equal(b, m.lastJSON)
	m.cfg = cfg
	m.lastJSON = b
	return changed
}

// Subscribe returns a channel receiving each newly committed config.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish delivers the latest config; a slow subscriber loses the older one.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload parses the file and publishes it when it changed. A bad file keeps
// the previous config.
func (m *Manager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config.rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	if !m.commit(cfg) {
		return
	}
	m.publish(cfg)
	m.log.Info("config.reloaded", logx.String("path", m.path))
}

// Watch reloads on file changes until ctx is canceled. The directory is
// watched so editors that replace the file are handled. A broken watcher is
// recreated with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.debounce, m.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	backoff := 250 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, file, schedule)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config.watch_restart", logx.String("dir", dir), logx.Duration("backoff", backoff), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return nil
}

var errWatcherClosed = errors.New("watcher closed")

func (m *Manager) watchOnce(ctx context.Context, dir, file string, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config.watch_started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				changed()
				continue
			}
			m.log.Warn("config.watch_error", logx.String("dir", dir), logx.Err(err))
		}
	}
}
