package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/fsnotify/fsnotify"
)

// Repository holds the live configuration and serves per-topic policies from it.
type Repository struct {
	mu         sync.RWMutex
	configData FileConfig
	configPath string
	watcher    *fsnotify.Watcher
	listeners  []func(FileConfig)
}

// NewRepository creates a repository backed by the file at configPath.
func NewRepository(configPath string) *Repository {
	cfg := FileConfig{}
	cfg.ApplyDefaults()
	return &Repository{configPath: configPath, configData: cfg}
}

// NewStaticRepository creates a repository that never touches the filesystem.
func NewStaticRepository(cfg FileConfig) *Repository {
	cfg.ApplyDefaults()
	return &Repository{configData: cfg}
}

// LoadFromFile loads configuration from file, applies the environment overlay
// and notifies listeners.
func (r *Repository) LoadFromFile() error {
	cfg, err := ReadConfig(r.configPath)
	if err != nil {
		return err
	}
	FromEnv(&cfg)

	r.mu.Lock()
	r.configData = cfg
	listeners := append([]func(FileConfig){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Current returns a copy of the active configuration.
func (r *Repository) Current() FileConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configData
}

// OnChange registers fn to be called after every successful reload.
func (r *Repository) OnChange(fn func(FileConfig)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Policy returns the defaults with the topic override, if any, applied on top.
func (r *Repository) Policy(topic string) domain.TopicPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configData.Policy(topic)
}

// SetTopicPolicy merges p into the override of topic and persists it when file-backed.
func (r *Repository) SetTopicPolicy(topic string, p domain.PolicyOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.configData.Topics == nil {
		r.configData.Topics = make(map[string]domain.PolicyOverride)
	}
	r.configData.Topics[topic] = r.configData.Topics[topic].Merge(p)
	if r.configPath == "" {
		return nil
	}
	return r.writeToFile()
}

// Watch sets a fsnotify watcher on the file for hot reload
func (r *Repository) Watch() error {
	abs, err := filepath.Abs(r.configPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(abs)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()

	const debounceDelay = 350 * time.Millisecond

	go func() {
		reload := func() {
			for i := 0; i < 10; i++ {
				if _, err := os.Stat(abs); err == nil {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}

			utils.Logger.Info("config file changed", "path", abs)
			if err := r.LoadFromFile(); err != nil {
				utils.Logger.Error("failed to reload config", "err", err)
			}
		}

		var timer *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					if timer == nil {
						timer = time.AfterFunc(debounceDelay, reload)
					} else {
						timer.Stop()
						timer.Reset(debounceDelay)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				utils.Logger.Error("fsnotify error", "err", err)
			}
		}
	}()

	return nil
}

// Close stops the watcher, if any.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	r.watcher = nil
	return err
}

// writeToFile persists current in-memory config to file
func (r *Repository) writeToFile() error {
	dir := filepath.Dir(r.configPath)
	_ = os.MkdirAll(dir, 0755)
	return WriteConfig(r.configPath, r.configData)
}
