package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

// SyncResult summarizes one reconciliation pass against a single
// repository, returned to callers (and recorded via the Health Monitor).
type SyncResult struct {
	Repository string
	Added      int
	Changed    int
	Removed    int
	Unchanged  int
	Duration   time.Duration
}

// Syncer owns the per-repository poll loops that keep the tasks table's
// registry-sourced rows in sync with what each Source currently enumerates
// (§4.5.1). Filesystem sources are additionally driven out-of-cycle by a
// Watcher (watcher.go), which calls TriggerSync on file events instead of
// waiting for the next poll tick.
type Syncer struct {
	log    logger.Logger
	tasks  *database.TaskRepository
	health *database.RepositoryHealthRepository
	sem    *semaphore.Weighted

	mu          sync.Mutex
	sources     map[string]Source
	configs     map[string]config.RegistrySourceConfig
	lastSyncAt  map[string]time.Time
	syncing     map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer builds a Syncer for the given registry configuration. Sources
// that fail to construct (e.g. an unknown type) are logged and skipped
// rather than failing startup — one misconfigured repository shouldn't take
// down the others.
func NewSyncer(
	log logger.Logger,
	tasks *database.TaskRepository,
	health *database.RepositoryHealthRepository,
	cfg config.RegistryConfig,
) *Syncer {
	cfg.SetDefaults()
	s := &Syncer{
		log:        log,
		tasks:      tasks,
		health:     health,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentSyncs)),
		sources:    make(map[string]Source),
		configs:    make(map[string]config.RegistrySourceConfig),
		lastSyncAt: make(map[string]time.Time),
		syncing:    make(map[string]bool),
	}
	for _, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}
		src, err := NewSource(sc)
		if err != nil {
			log.Warn("registry: skipping source", logger.String("name", sc.Name), logger.Error(err))
			continue
		}
		s.sources[sc.Name] = src
		s.configs[sc.Name] = sc
	}
	return s
}

// Sources returns the filesystem-type source configs, for Watcher to attach
// fsnotify watches to.
func (s *Syncer) Sources() map[string]config.RegistrySourceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]config.RegistrySourceConfig, len(s.configs))
	for k, v := range s.configs {
		out[k] = v
	}
	return out
}

// Start launches one poll loop per configured source and returns; the loops
// run until ctx is cancelled or Stop is called.
func (s *Syncer) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		name := name
		s.wg.Add(1)
		go s.pollLoop(name)
	}
}

func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Syncer) pollLoop(name string) {
	defer s.wg.Done()
	interval := s.configs[name].PollingInterval

	if _, err := s.SyncOnce(s.ctx, name); err != nil {
		s.log.Error("registry: initial sync failed", logger.String("repository", name), logger.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(s.ctx, name); err != nil {
				s.log.Error("registry: poll sync failed", logger.String("repository", name), logger.Error(err))
			}
		}
	}
}

// TriggerSync requests an out-of-cycle sync of name, honoring
// min_sync_interval so a burst of filesystem events collapses into at most
// one sync per window (§4.5.2). Returns immediately if a sync is already in
// flight or the interval hasn't elapsed; the caller's event is not queued.
func (s *Syncer) TriggerSync(ctx context.Context, name string) (*SyncResult, error) {
	s.mu.Lock()
	cfg, ok := s.configs[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("registry: unknown source %q", name)
	}
	if s.syncing[name] {
		s.mu.Unlock()
		return nil, nil
	}
	if last, seen := s.lastSyncAt[name]; seen && time.Since(last) < cfg.MinSyncInterval {
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()
	return s.SyncOnce(ctx, name)
}

// SyncOnce runs one content-hash diff-and-reconcile pass for name: enumerate
// the Source, compare against the tasks already tracked for that
// repository, and upsert/delete to match (§4.5.1). Manually-created tasks
// are never touched — only rows with registry_source = true and a matching
// registry_repository are considered.
func (s *Syncer) SyncOnce(ctx context.Context, name string) (*SyncResult, error) {
	s.mu.Lock()
	src, ok := s.sources[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown source %q", name)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	s.syncing[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing[name] = false
		s.lastSyncAt[name] = time.Now()
		s.mu.Unlock()
	}()

	start := time.Now()
	result, syncErr := s.reconcile(ctx, name, src)
	duration := time.Since(start)

	row := &database.RepositoryHealthRow{
		RepositoryName: name,
		LastSyncAt:     timePtr(start),
		LastSyncDurationMs: duration.Milliseconds(),
	}
	if prev, getErr := s.health.Get(ctx, name); getErr == nil {
		row.ConsecutiveFailures = prev.ConsecutiveFailures
	}
	if syncErr != nil {
		row.ConsecutiveFailures++
		row.LastError = syncErr.Error()
		row.Status = classifyHealth(row.ConsecutiveFailures)
	} else {
		row.ConsecutiveFailures = 0
		row.LastError = ""
		row.Status = statusHealthy
	}
	if err := s.health.Upsert(ctx, row); err != nil {
		s.log.Error("registry: record health failed", logger.String("repository", name), logger.Error(err))
	}

	if syncErr != nil {
		return nil, syncErr
	}
	result.Duration = duration
	s.log.Info("registry: sync complete",
		logger.String("repository", name),
		logger.Int("added", result.Added),
		logger.Int("changed", result.Changed),
		logger.Int("removed", result.Removed),
		logger.Int("unchanged", result.Unchanged))
	return result, nil
}

func (s *Syncer) reconcile(ctx context.Context, name string, src Source) (*SyncResult, error) {
	defs, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source %s: %w", name, err)
	}

	existing, err := s.tasks.ListByRepository(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list existing tasks for %s: %w", name, err)
	}
	byPath := make(map[string]*domain.Task, len(existing))
	for _, t := range existing {
		byPath[t.RegistryPath] = t
	}

	result := &SyncResult{Repository: name}
	keepPaths := make([]string, 0, len(defs))
	for _, def := range defs {
		keepPaths = append(keepPaths, def.Path)
		prior, seen := byPath[def.Path]
		if seen && prior.ContentHash == def.ContentHash {
			result.Unchanged++
			continue
		}
		task := taskFromDefinition(def, name)
		if seen {
			task.UUID = prior.UUID
			result.Changed++
		} else {
			result.Added++
		}
		if err := s.tasks.UpsertFromRegistry(ctx, task); err != nil {
			return nil, fmt.Errorf("upsert %s/%s: %w", name, def.Path, err)
		}
	}

	removed, err := s.tasks.DeleteByRepositoryPathNotIn(ctx, name, keepPaths)
	if err != nil {
		return nil, fmt.Errorf("delete stale for %s: %w", name, err)
	}
	result.Removed = int(removed)
	return result, nil
}

func taskFromDefinition(def TaskDefinition, repository string) *domain.Task {
	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}
	return &domain.Task{
		Name:               def.Name,
		Description:        def.Description,
		Version:            def.Version,
		ScriptSource:       def.ScriptSource,
		InputSchema:        def.InputSchema,
		OutputSchema:       def.OutputSchema,
		Metadata:           def.Metadata,
		Enabled:            enabled,
		RegistrySource:     true,
		ContentHash:        def.ContentHash,
		RegistryRepository: repository,
		RegistryPath:       def.Path,
	}
}

func timePtr(t time.Time) *time.Time { return &t }
