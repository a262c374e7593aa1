package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/softdim/softdim/internal/logger"
	"gopkg.in/yaml.v3"
)

// Manager owns the on-disk configuration. Reads hand out clamped value
// copies; writers go through Update which persists and notifies.
type Manager struct {
	configPath string
	mu         sync.RWMutex
	config     Config
	watcher    *fsnotify.Watcher
	onChange   []func(Config)
	stopChan   chan struct{}
}

// NewManager loads the config file, creating it with defaults when missing.
// An empty configFile selects ~/.config/softdim/config.yaml.
func NewManager(configFile string) (*Manager, error) {
	actualPath := configFile
	if actualPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir := filepath.Join(homeDir, ".config", "softdim")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		actualPath = filepath.Join(configDir, "config.yaml")
	}

	m := &Manager{
		configPath: actualPath,
		stopChan:   make(chan struct{}),
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Default()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("mode", string(m.config.Mode)).
		Msg("Config loaded")

	return m, nil
}

// load reads and clamps the configuration from disk.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Clamp()

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a clamped snapshot of the configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	cfg.Clamp()
	// Copy the map so the caller's snapshot stays immutable.
	excluded := make(map[string]bool, len(cfg.ExcludedApps))
	for k, v := range cfg.ExcludedApps {
		excluded[k] = v
	}
	cfg.ExcludedApps = excluded
	return cfg
}

// Update replaces the configuration, persists it, and notifies subscribers.
func (m *Manager) Update(cfg Config) error {
	cfg.Clamp()

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return err
	}
	m.notify(cfg)
	return nil
}

// OnChange registers a callback invoked with the new snapshot after every
// update or external file edit.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) notify(cfg Config) {
	m.mu.RLock()
	callbacks := make([]func(Config), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.RUnlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Watch reloads the config when the file changes on disk, so edits made
// outside the daemon take effect without restart.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	go m.watchLoop(watcher)
	return nil
}

func (m *Manager) watchLoop(watcher *fsnotify.Watcher) {
	log := logger.WithComponent("config")

	for {
		select {
		case <-m.stopChan:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != m.configPath {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := m.load(); err != nil {
				log.Warn().Err(err).Msg("Failed to reload config after file change")
				continue
			}
			log.Info().Msg("Config reloaded from disk")
			m.notify(m.Get())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// Close stops the watcher.
func (m *Manager) Close() error {
	close(m.stopChan)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// GetConfigPath returns the path of the backing file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
