package config

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Manager owns the process-wide RuntimeConfig.
//
// The current configuration is an immutable value swapped atomically on
// reload, so a reader always sees one consistent set of settings. Reloads are
// requested asynchronously (SIGHUP, file change) and carried out by the
// consumer at points of its choosing through ProcessPendingReload.
type Manager struct {
	v       *viper.Viper
	logger  *log.Logger
	current atomic.Pointer[RuntimeConfig]
	pending atomic.Bool

	mu       sync.Mutex
	onChange []func()
}

// NewManager loads the initial configuration from v (global viper if nil).
// The frequency floor is not enforced here: that is up to the worker.
func NewManager(v *viper.Viper, logger *log.Logger) (*Manager, error) {
	if v == nil {
		v = viper.GetViper()
	}
	cfg, err := ConfigFromViper(v)
	if err != nil {
		return nil, err
	}

	m := &Manager{v: v, logger: logger}
	m.current.Store(&cfg)
	return m, nil
}

// Load returns the current configuration.
func (m *Manager) Load() *RuntimeConfig {
	return m.current.Load()
}

// OnReloadRequest registers fn to be called whenever a reload is requested.
// It is used to wake a sleeping consumer.
func (m *Manager) OnReloadRequest(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// RequestReload marks a reload as pending and notifies the listeners. It is
// safe to call from any goroutine.
func (m *Manager) RequestReload() {
	m.pending.Store(true)

	m.mu.Lock()
	listeners := append([]func(){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// ReloadPending reports whether a reload was requested and not processed yet.
func (m *Manager) ReloadPending() bool {
	return m.pending.Load()
}

// ProcessPendingReload reloads the configuration if a reload was requested.
func (m *Manager) ProcessPendingReload() error {
	if !m.pending.CompareAndSwap(true, false) {
		return nil
	}
	return m.Reload()
}

// Reload re-reads the persisted settings and swaps the current configuration.
//
// Settings that fail validation are rejected and the previous configuration is
// kept, as is the database, which only takes effect at start. The frequency
// floor is checked after the swap: a violation is returned as
// ErrFrequencyTooSmall and must be treated as fatal.
func (m *Manager) Reload() error {
	if m.v.ConfigFileUsed() != "" {
		if err := m.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				m.logger.Errorf("[config] error reading config file, keeping current settings: %v", err)
				return nil
			}
		}
	}

	cfg, err := ConfigFromViper(m.v)
	if err != nil {
		m.logger.Errorf("[config] invalid settings, keeping current ones: %v", err)
		return nil
	}

	previous := m.current.Load()
	if previous != nil && cfg.Database != previous.Database {
		m.logger.Warnf("[config] powa.database cannot be changed without restart, keeping %q", previous.Database)
		cfg.Database = previous.Database
	}

	m.current.Store(&cfg)
	m.logger.Infof("[config] reloaded: frequency=%dms coalesce=%d retention=%dmin",
		cfg.Frequency, cfg.Coalesce, cfg.Retention)

	if err := cfg.CheckFrequency(); err != nil {
		return fmt.Errorf("after reload: %w", err)
	}
	return nil
}

// Watch requests a reload each time the config file changes on disk.
func (m *Manager) Watch() {
	if m.v.ConfigFileUsed() == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.logger.Debugf("[config] %s changed (%s)", e.Name, e.Op)
		m.RequestReload()
	})
	m.v.WatchConfig()
}
