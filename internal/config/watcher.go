// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/registry"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the config file on change and pushes the resulting pool
// topology into a registry.Registry, implementing the reload_signal
// requirement without a process restart.
type Watcher struct {
	cmd *cobra.Command
	reg *registry.Registry
	log logger.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher constructs a Watcher bound to the command whose flags produced
// the initial Load, and the registry that should receive reloaded pools.
func NewWatcher(cmd *cobra.Command, reg *registry.Registry, log logger.Logger) *Watcher {
	return &Watcher{cmd: cmd, reg: reg, log: log}
}

// Start begins watching the config file named by --config by watching its
// containing directory. The file itself need not exist yet: a file created
// later in that directory triggers a reload. If the directory does not exist,
// nothing is watched and Start returns nil.
func (w *Watcher) Start() error {
	path, _ := w.cmd.Flags().GetString("config")
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		if w.log != nil {
			w.log.Debug("config watcher: directory for %s not present, skipping hot reload", abs)
		}
		return nil
	}

	go w.watchLoop(fsWatcher, abs)
	return nil
}

func (w *Watcher) watchLoop(fsWatcher *fsnotify.Watcher, path string) {
	defer fsWatcher.Close()
	for {
		select {
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Error("config watcher error: %v", err)
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.cmd)
	if err != nil {
		if w.log != nil {
			w.log.Error("config reload failed, keeping previous pool topology: %v", err)
		}
		return
	}
	if err := w.reg.Load(cfg.RegistryPools()); err != nil {
		if w.log != nil {
			w.log.Error("applying reloaded pool topology failed: %v", err)
		}
		return
	}
	if w.log != nil {
		w.log.Info("reloaded pool topology from config (%d pools)", len(cfg.Pools))
	}
}

// ReloadNow forces an immediate synchronous reload, used for SIGHUP handling
// in addition to the fsnotify-driven path.
func (w *Watcher) ReloadNow() {
	viper.Reset()
	applyDefaults()
	bindViper(w.cmd)
	w.reload()
}
