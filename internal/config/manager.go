package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "postpilot/pkg/logx"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// Change is one committed reload.
type Change struct {
	Prev, Next *Config
}

// Manager holds the committed config and hands validated reloads to
// subscribers.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config
	sum [sha256.Size]byte
	log logx.Logger

	validator func(ctx context.Context, cfg *Config) error

	// subsMu also guards sends so Unsubscribe never closes a channel mid-send.
	subsMu sync.Mutex
	subs   map[<-chan Change]chan Change
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), subs: map[<-chan Change]chan Change{}}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

// SetValidator installs an extra check run on reloads before they commit.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.mu.Lock()
	m.validator = fn
	m.mu.Unlock()
}

// Load reads, validates and commits the file.
func (m *Manager) Load() (*Config, error) {
	cfg, err := ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
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

func (m *Manager) commit(cfg *Config) *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.cfg
	m.cfg, m.sum = cfg, fingerprint(cfg)
	return prev
}

// fingerprint hashes the canonical JSON form; equal configs hash equal
// regardless of source format or key order.
func fingerprint(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}

// Subscribe returns a channel of committed changes. A slow subscriber loses
// its oldest pending change, never the newest.
func (m *Manager) Subscribe(buffer int) <-chan Change {
	ch := make(chan Change, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = ch
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch <-chan Change) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if c, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(c)
	}
}

func (m *Manager) publish(c Change) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- c:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Reload re-reads the file and commits it when it parses, validates and
// differs from the current config. It reports whether a change was published.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	cfg, err := ReadFile(m.path)
	if err == nil {
		err = Validate(cfg)
	}
	m.mu.RLock()
	same := err == nil && fingerprint(cfg) == m.sum
	validator := m.validator
	m.mu.RUnlock()
	if err != nil || same {
		return false, err
	}
	if validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = validator(vctx, cfg)
		cancel()
		if err != nil {
			return false, err
		}
	}
	prev := m.commit(cfg)
	m.publish(Change{Prev: prev, Next: cfg})
	return true, nil
}

// Watch reloads on file changes until ctx is done. It watches the directory
// so editors that replace the file are seen. An error means the watcher
// broke; run it under a restarting supervisor.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	log := m.logger()
	log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if filepath.Base(ev.Name) == file && ev.Op != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn("config watch overflow; reloading", logx.Err(err))
				debounce.Reset(reloadDebounce)
				continue
			}
			log.Warn("config watch error", logx.Err(err))
		case <-debounce.C:
			switch changed, err := m.Reload(ctx); {
			case err != nil:
				log.Warn("config reload rejected; keeping current", logx.String("path", m.path), logx.Err(err))
			case changed:
				log.Debug("config change committed", logx.String("path", m.path))
			}
		}
	}
}

func (m *Manager) logger() logx.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log
}
