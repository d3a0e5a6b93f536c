// Package service wires the pipeline into one running process: cache,
// gate, source adapters, merge engines over the curated vocabulary, and
// a periodically rebuilt tree snapshot served to the API and CLI.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/taxomat/taxomat/cache"
	"github.com/taxomat/taxomat/config"
	"github.com/taxomat/taxomat/fallback"
	"github.com/taxomat/taxomat/gate"
	"github.com/taxomat/taxomat/merge"
	"github.com/taxomat/taxomat/rootmap"
	"github.com/taxomat/taxomat/source"
	"github.com/taxomat/taxomat/tree"
	"github.com/taxomat/taxomat/vocabulary"
)

// Sources is the slice of the source manager the service depends on.
// merge.Lookuper covers resolution; the rest feeds the admin surface.
type Sources interface {
	merge.Lookuper
	Sources() []string
	Statuses() []gate.SourceStatus
}

// termKey identifies one remembered lookup.
type termKey struct {
	label    string
	language string
}

// Service owns the resolution pipeline and the current tree snapshot.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	store    cache.Store
	gate     *gate.Gate
	sources  Sources
	mapper   *rootmap.Mapper
	resolver *fallback.Resolver

	priority  []string
	foodTerms []string

	// Swapped together under mu on vocabulary reload and rebuild.
	mu       sync.RWMutex
	local    map[string]*vocabulary.Concept
	files    []string
	batch    *merge.Engine
	live     *merge.Engine
	snapshot *tree.Tree
	index    *vocabulary.Index

	// Terms looked up this run, folded into the next rebuild.
	termsMu sync.Mutex
	terms   map[termKey]struct{}

	// buildMu serializes rebuilds.
	buildMu sync.Mutex

	// Lifecycle.
	lifeMu    sync.Mutex
	running   bool
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	rebuilds  chan struct{}
	watcher   *watcher
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithStore injects a cache store instead of opening one from config.
// The service still closes it on Close.
func WithStore(store cache.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithSources injects a source manager replacement.
func WithSources(sources Sources) Option {
	return func(s *Service) {
		s.sources = sources
	}
}

// New wires a service from config. The context bounds backend
// connections (NATS, redis). The returned service has the curated
// vocabulary loaded and an initial local-only snapshot built; Start
// adds the rebuild loop and file watching.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Service{
		cfg:      cfg,
		logger:   slog.Default(),
		terms:    make(map[termKey]struct{}),
		rebuilds: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mapper = rootmap.New(rootmap.Config{
		Roots:  cfg.Roots.Order,
		Tables: cfg.RootMaps,
	})
	s.resolver = fallback.New(cfg.LanguageFallbacks, cfg.FinalFallback)
	s.priority = enabledPriority(cfg.Sources.Priority, cfg.Sources.Enabled)
	s.foodTerms = cfg.Sources.FoodTerms
	if len(s.foodTerms) == 0 {
		s.foodTerms = merge.DefaultFoodTerms()
	}

	if s.store == nil {
		store, err := cache.Open(ctx, cache.Options{
			Backend: cfg.Cache.Backend,
			Path:    cfg.Cache.Path,
			URL:     cfg.Cache.URL,
			Bucket:  cfg.Cache.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		s.store = store
	}

	if s.sources == nil {
		manager, g, err := buildManager(cfg, s.store, s.logger)
		if err != nil {
			s.store.Close()
			return nil, err
		}
		s.sources = manager
		s.gate = g
	}

	if err := s.reloadVocabulary(); err != nil {
		s.store.Close()
		return nil, err
	}
	if err := s.buildLocalSnapshot(); err != nil {
		s.store.Close()
		return nil, err
	}
	return s, nil
}

// buildManager constructs the gate, HTTP client, enabled adapters and
// the manager over them.
func buildManager(cfg *config.Config, store cache.Store, logger *slog.Logger) (*source.Manager, *gate.Gate, error) {
	g := gate.New(gate.Config{
		FailureThreshold:  cfg.Gate.FailureThreshold,
		Cooldown:          cfg.Gate.Cooldown,
		MinInterval:       cfg.Gate.MinInterval,
		BackoffBase:       cfg.Gate.Retry.BackoffBase,
		BackoffMultiplier: cfg.Gate.Retry.BackoffMultiplier,
		MaxBackoff:        cfg.Gate.Retry.MaxBackoff,
	}, gate.WithLogger(logger))

	client := source.NewClient(cfg.Gate.Timeout,
		source.WithRetryConfig(source.RetryConfig{
			MaxAttempts:       cfg.Gate.Retry.MaxAttempts,
			BackoffBase:       cfg.Gate.Retry.BackoffBase,
			BackoffMultiplier: cfg.Gate.Retry.BackoffMultiplier,
			MaxBackoff:        cfg.Gate.Retry.MaxBackoff,
		}),
		source.WithClientLogger(logger))

	adapters := make([]source.Adapter, 0, len(cfg.Sources.Enabled))
	for _, name := range cfg.Sources.Enabled {
		sc := cfg.Sources.Settings(name)
		adapter, err := source.New(name, source.Settings{
			Endpoint:    sc.Endpoint,
			TaxonomyURL: sc.TaxonomyURL,
			Refresh:     sc.Refresh,
			DataDir:     filepath.Join(cfg.DataDir, "sources"),
			Languages:   cfg.Languages,
		}, client, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("source %s: %w", name, err)
		}
		adapters = append(adapters, adapter)
	}

	manager := source.NewManager(adapters, store, g,
		source.WithTTL(cfg.Cache.TTL, cfg.Cache.NegativeTTL),
		source.WithFetchTimeout(cfg.Gate.Timeout),
		source.WithLogger(logger))
	return manager, g, nil
}

// enabledPriority filters the consultation order down to enabled
// sources, keeping priority order.
func enabledPriority(priority, enabled []string) []string {
	if len(priority) == 0 {
		priority = merge.DefaultPriority()
	}
	on := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		on[name] = struct{}{}
	}
	out := make([]string, 0, len(priority))
	for _, name := range priority {
		if _, ok := on[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// reloadVocabulary loads the curated files and rebuilds both merge
// engines over the fresh concept set.
func (s *Service) reloadVocabulary() error {
	local, files, err := vocabulary.LoadLocal(s.cfg.Vocabulary.Paths, s.cfg.Language)
	if err != nil {
		return err
	}

	batch := merge.New(s.sources, local, s.engineOptions(true)...)
	live := merge.New(s.sources, local, s.engineOptions(false)...)

	s.mu.Lock()
	s.local = local
	s.files = files
	s.batch = batch
	s.live = live
	s.mu.Unlock()

	s.logger.Debug("Vocabulary loaded", "files", len(files), "concepts", len(local))
	return nil
}

func (s *Service) engineOptions(wait bool) []merge.Option {
	return []merge.Option{
		merge.WithMapper(s.mapper),
		merge.WithPriority(s.priority),
		merge.WithFoodTerms(s.foodTerms),
		merge.WithLanguages(s.cfg.Language, s.cfg.Languages),
		merge.WithWait(wait),
		merge.WithLogger(s.logger),
	}
}

func (s *Service) treeConfig() tree.Config {
	return tree.Config{
		Roots:     s.cfg.Roots.Order,
		Synthetic: s.cfg.Roots.Synthetic,
		Language:  s.cfg.Language,
		Languages: s.cfg.Languages,
		Fallback:  s.resolver,
	}
}

// buildLocalSnapshot publishes a first snapshot from the curated
// concepts alone, so lookups have a tree before the first full rebuild.
func (s *Service) buildLocalSnapshot() error {
	s.mu.RLock()
	local := s.local
	s.mu.RUnlock()

	concepts := make(map[string]*vocabulary.Concept, len(local))
	for id, c := range local {
		concepts[id] = c.Clone()
	}
	tr, err := tree.Build(concepts, nil, nil, s.treeConfig())
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	s.publish(tr)
	return nil
}

// publish swaps in a new snapshot and its lookup index.
func (s *Service) publish(tr *tree.Tree) {
	index := vocabulary.NewIndex(tr.Concepts())

	s.mu.Lock()
	s.snapshot = tr
	s.index = index
	s.mu.Unlock()
}

// Snapshot returns the current tree. Snapshots are immutable once
// published.
func (s *Service) Snapshot() *tree.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Start launches the rebuild loop and, when configured, the vocabulary
// watcher. The first full rebuild runs synchronously so the caller
// serves a complete tree from the start.
func (s *Service) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.running {
		s.lifeMu.Unlock()
		return fmt.Errorf("service already running")
	}
	s.running = true
	s.startTime = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lifeMu.Unlock()

	if s.cfg.Vocabulary.Watch {
		w, err := newWatcher(s.cfg.Vocabulary.Paths, s.logger)
		if err != nil {
			s.logger.Warn("Vocabulary watch unavailable", "error", err)
		} else {
			s.watcher = w
			go w.run(runCtx)
		}
	}

	if _, err := s.rebuild(runCtx, "manual"); err != nil {
		s.logger.Error("Initial rebuild failed", "error", err)
	}

	go s.run(runCtx)

	s.logger.Info("Service started",
		"sources", s.sources.Sources(),
		"languages", s.cfg.Languages,
		"rebuild_interval", s.cfg.Tree.RebuildInterval,
		"watch", s.watcher != nil)
	return nil
}

// run is the rebuild loop: periodic, watch-triggered, and manual.
func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	var tick <-chan time.Time
	if s.cfg.Tree.RebuildInterval > 0 {
		ticker := time.NewTicker(s.cfg.Tree.RebuildInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var watch <-chan struct{}
	if s.watcher != nil {
		watch = s.watcher.Notify()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.rebuildLogged(ctx, "interval")
		case <-watch:
			if err := s.reloadVocabulary(); err != nil {
				s.logger.Warn("Vocabulary reload failed, keeping previous set", "error", err)
				continue
			}
			s.rebuildLogged(ctx, "watch")
		case <-s.rebuilds:
			s.rebuildLogged(ctx, "manual")
		}
	}
}

func (s *Service) rebuildLogged(ctx context.Context, trigger string) {
	if _, err := s.rebuild(ctx, trigger); err != nil {
		s.logger.Error("Rebuild failed", "trigger", trigger, "error", err)
	}
}

// TriggerRebuild queues an asynchronous rebuild. Returns false when the
// loop is not running or a trigger is already pending.
func (s *Service) TriggerRebuild() bool {
	s.lifeMu.Lock()
	running := s.running
	s.lifeMu.Unlock()
	if !running {
		return false
	}
	select {
	case s.rebuilds <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop halts the rebuild loop and watcher. The store stays open so
// one-shot operations still work; Close releases everything.
func (s *Service) Stop() {
	s.lifeMu.Lock()
	if !s.running {
		s.lifeMu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	done := s.done
	s.lifeMu.Unlock()

	cancel()
	<-done
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	s.logger.Info("Service stopped")
}

// Close stops the service and releases the cache store.
func (s *Service) Close() error {
	s.Stop()
	return s.store.Close()
}

// Uptime reports how long the service has been running, zero before
// Start.
func (s *Service) Uptime() time.Duration {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startTime)
}

// SourceStatuses reports per-source gate and breaker state.
func (s *Service) SourceStatuses() []gate.SourceStatus {
	return s.sources.Statuses()
}
