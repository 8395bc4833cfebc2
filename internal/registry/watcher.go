package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/logger"
)

// Watcher subscribes to OS filesystem events for every filesystem-type
// source and debounces them into Syncer.TriggerSync calls (§4.5.2). Git and
// HTTP sources are poll-only and never registered here.
type Watcher struct {
	log    logger.Logger
	syncer *Syncer
	fsw    *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	batched map[string]bool
}

// NewWatcher builds a Watcher over syncer's filesystem sources. Call Start
// to begin watching; Close releases the underlying fsnotify handle.
func NewWatcher(log logger.Logger, syncer *Syncer) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		log:     log,
		syncer:  syncer,
		fsw:     fsw,
		timers:  make(map[string]*time.Timer),
		batched: make(map[string]bool),
	}, nil
}

// Start adds a recursive watch over every enabled filesystem source's root
// and runs the event loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	roots := make(map[string]string) // watched dir -> repository name
	for name, sc := range w.syncer.Sources() {
		if sc.Type != "filesystem" {
			continue
		}
		if err := w.addRecursive(sc.URI); err != nil {
			w.log.Warn("registry: watch setup failed", logger.String("repository", name), logger.Error(err))
			continue
		}
		roots[sc.URI] = name
	}
	if len(roots) == 0 {
		return nil
	}

	go w.loop(ctx, roots)
	return nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, roots map[string]string) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, roots, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("registry: watch error", logger.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, roots map[string]string, event fsnotify.Event) {
	repo, cfg := w.repositoryFor(roots, event.Name)
	if repo == "" {
		return
	}
	if !matchesWatch(cfg, event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.timers[repo]; exists {
		timer.Stop()
	}
	delay := cfg.DebounceDelay
	if w.batched[repo] {
		delay = cfg.BatchWindow
	}
	w.batched[repo] = true
	w.timers[repo] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		w.batched[repo] = false
		w.mu.Unlock()
		if _, err := w.syncer.TriggerSync(ctx, repo); err != nil {
			w.log.Warn("registry: triggered sync failed", logger.String("repository", repo), logger.Error(err))
		}
	})
}

func (w *Watcher) repositoryFor(roots map[string]string, path string) (string, config.RegistrySourceConfig) {
	var best string
	for root := range roots {
		if strings.HasPrefix(path, root) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return "", config.RegistrySourceConfig{}
	}
	name := roots[best]
	return name, w.syncer.Sources()[name]
}

// matchesWatch applies watch_patterns/ignore_patterns (§4.5.2) against the
// event's base name. An empty watch_patterns matches only task definition
// files (`*.task.json`).
func matchesWatch(cfg config.RegistrySourceConfig, path string) bool {
	base := filepath.Base(path)
	for _, pat := range cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return false
		}
	}
	if len(cfg.WatchPatterns) == 0 {
		return strings.HasSuffix(base, taskDefinitionExt)
	}
	for _, pat := range cfg.WatchPatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}
