// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/metrics"
)

// DefaultDebounce coalesces the burst of events editors produce on save.
const DefaultDebounce = 500 * time.Millisecond

// Holder keeps the current configuration and swaps it atomically on
// reload. A config that fails to load, validate or build its topology is
// rejected and the previous one stays active.
type Holder struct {
	mu       sync.RWMutex
	current  Config
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration

	reloadMu        sync.RWMutex
	reloadListeners []chan<- Config

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHolder creates a holder with an already loaded initial config.
func NewHolder(initial Config, loader *Loader) *Holder {
	return &Holder{
		current:  initial,
		loader:   loader,
		logger:   xglog.WithComponent("config"),
		debounce: DefaultDebounce,
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads the file again. On failure the old config is kept and the
// error returned.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(xglog.FieldEvent, "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		metrics.IncConfigReload("failure")
		h.logger.Error().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("new configuration rejected, keeping current")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = next
	h.mu.Unlock()

	metrics.IncConfigReload("success")
	h.logChanges(old, next)
	h.notifyListeners(next)
	h.logger.Info().Str(xglog.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	return nil
}

// RegisterListener registers a channel that receives every config
// accepted by Reload. Sends never block; a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *Holder) notifyListeners(cfg Config) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()
	for _, ch := range h.reloadListeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str(xglog.FieldEvent, "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

// StartWatcher reloads the config whenever its file changes, until ctx
// ends or Stop is called. The parent directory is watched so atomic
// replacements are seen. Without a config path this is a no-op.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().Str(xglog.FieldEvent, "config.watcher_disabled").Msg("no config file, watcher disabled")
		return nil
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	done := make(chan struct{})
	h.watchMu.Lock()
	h.watcher = watcher
	h.done = done
	h.watchMu.Unlock()

	h.logger.Info().Str(xglog.FieldEvent, "config.watcher_started").Str(xglog.FieldPath, path).Msg("watching config file for changes")
	go h.watchLoop(ctx, watcher, path, done)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, done chan struct{}) {
	defer close(done)
	defer func() { _ = watcher.Close() }()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(xglog.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().Str(xglog.FieldEvent, "config.file_changed").Str("op", ev.Op.String()).Msg("config file changed")
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			_ = h.Reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str(xglog.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop closes the watcher and waits for its goroutine.
func (h *Holder) Stop() {
	h.watchMu.Lock()
	watcher, done := h.watcher, h.done
	h.watcher, h.done = nil, nil
	h.watchMu.Unlock()
	if watcher == nil {
		return
	}
	_ = watcher.Close()
	<-done
}

// TopologyChanged reports whether two configs describe different nodes.
func TopologyChanged(old, next Config) bool {
	return old.Topology != next.Topology || !reflect.DeepEqual(old.Nodes, next.Nodes)
}

func (h *Holder) logChanges(old, next Config) {
	if old.LogLevel != next.LogLevel {
		h.logger.Info().Str("old", old.LogLevel).Str("new", next.LogLevel).Msg("config changed: log_level")
	}
	if old.Handshake.Timeout != next.Handshake.Timeout {
		h.logger.Info().Dur("old", old.Handshake.Timeout).Dur("new", next.Handshake.Timeout).Msg("config changed: handshake.timeout")
	}
	if old.Supervisor != next.Supervisor {
		h.logger.Info().Int("max_attempts", next.Supervisor.MaxAttempts).Msg("config changed: supervisor")
	}
	if TopologyChanged(old, next) {
		h.logger.Info().
			Str("topology", next.Topology).
			Int("old_nodes", len(old.Nodes)).
			Int("new_nodes", len(next.Nodes)).
			Msg("config changed: nodes")
	}
}
