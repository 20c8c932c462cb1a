package saienrichment

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/cache"
	"github.com/saiset-co/sai-enrichment/config"
	"github.com/saiset-co/sai-enrichment/cron"
	"github.com/saiset-co/sai-enrichment/dedup"
	"github.com/saiset-co/sai-enrichment/enrichment"
	"github.com/saiset-co/sai-enrichment/health"
	"github.com/saiset-co/sai-enrichment/logger"
	"github.com/saiset-co/sai-enrichment/metrics"
	"github.com/saiset-co/sai-enrichment/scoring"
	"github.com/saiset-co/sai-enrichment/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const sweepJobName = "stale-version-sweep"

// Service assembles the enrichment pipeline: configuration, logging, health,
// metrics, the cache store, the deduplicator, the scorer, the orchestrator
// and the maintenance scheduler. Construct it, register providers, Start it.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	configManager *config.ConfigurationManager
	logger        types.Logger
	health        *health.Manager
	metrics       types.MetricsManager
	store         types.CacheStore
	deduplicator  *dedup.Deduplicator
	scorer        *scoring.Scorer
	orchestrator  *enrichment.Orchestrator
	cron          *cron.Manager

	state           atomic.Value
	done            chan struct{}
	wg              sync.WaitGroup
	shutdownTimeout time.Duration
}

// NewService builds a service from a YAML config file.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "config file does not exist")
	}

	configManager, err := config.NewConfigurationManager(configPath)
	if err != nil {
		return nil, err
	}

	return newService(ctx, configManager)
}

// NewServiceFromConfig builds a service from an in-memory config, for
// embedders and tests.
func NewServiceFromConfig(ctx context.Context, cfg *types.ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}
	return newService(ctx, config.NewStaticManager(cfg))
}

func newService(ctx context.Context, configManager *config.ConfigurationManager) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)
	cfg := configManager.GetConfig()

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build logger")
	}

	healthManager := health.NewManager(log)

	var metricsManager types.MetricsManager
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsManager, err = metrics.NewMetricsManager(log, cfg.Metrics)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to build metrics manager")
		}
	}

	store, err := cache.NewCacheStore(serviceCtx, log, metricsManager, healthManager, cfg.Cache, cfg.Enrichment)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build cache store")
	}

	deduplicator := dedup.NewDeduplicator(serviceCtx, log)
	scorer := scoring.NewScorer(cfg.Scoring)

	orchestrator, err := enrichment.NewOrchestrator(log, metricsManager, store, deduplicator, scorer, cfg.Enrichment)
	if err != nil {
		cancel()
		return nil, err
	}

	var cronManager *cron.Manager
	if cfg.Cron != nil && cfg.Cron.Enabled {
		cronManager, err = cron.NewManager(serviceCtx, log, metricsManager, cfg.Cron)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to build cron manager")
		}
	}

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		configManager:   configManager,
		logger:          log,
		health:          healthManager,
		metrics:         metricsManager,
		store:           store,
		deduplicator:    deduplicator,
		scorer:          scorer,
		orchestrator:    orchestrator,
		cron:            cronManager,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
	}
	s.state.Store(StateStopped)

	return s, nil
}

// RegisterProvider attaches the upstream fetch for one configured category.
func (s *Service) RegisterProvider(category string, fn types.ProviderFunc) error {
	return s.orchestrator.RegisterProvider(category, fn)
}

// Start brings up every component and schedules maintenance jobs. It does not
// block; use Run for the blocking variant.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	if err := s.health.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start health manager")
	}

	if s.metrics != nil {
		if err := s.metrics.Start(); err != nil {
			s.logger.Error("Failed to start metrics manager", zap.Error(err))
		}
	}

	if err := s.store.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start cache store")
	}

	if s.cron != nil {
		if err := s.scheduleSweep(); err != nil {
			s.logger.Error("Failed to schedule sweep job", zap.Error(err))
		}
		if err := s.cron.Start(); err != nil {
			s.logger.Error("Failed to start cron manager", zap.Error(err))
		}
	}

	s.setState(StateRunning)
	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Enrichment service started",
		zap.String("name", s.configManager.GetConfig().Name))

	return nil
}

// Run starts the service, installs signal handling and blocks until shutdown.
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	s.setupSignalHandling()

	<-s.done
	s.wg.Wait()

	return nil
}

// Stop shuts components down in reverse start order.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) &&
		!s.transitionState(StateStarting, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	s.logger.Info("Stopping enrichment service")

	if s.cron != nil {
		if err := s.cron.Stop(); err != nil && !types.IsError(err, types.ErrComponentNotRunning) {
			s.logger.Error("Failed to stop cron manager", zap.Error(err))
		}
	}

	if err := s.store.Stop(); err != nil && !types.IsError(err, types.ErrComponentNotRunning) {
		s.logger.Error("Failed to stop cache store", zap.Error(err))
	}

	if s.metrics != nil {
		if err := s.metrics.Stop(); err != nil && !types.IsError(err, types.ErrComponentNotRunning) {
			s.logger.Error("Failed to stop metrics manager", zap.Error(err))
		}
	}

	if err := s.health.Stop(); err != nil && !types.IsError(err, types.ErrComponentNotRunning) {
		s.logger.Error("Failed to stop health manager", zap.Error(err))
	}

	s.logger.Info("Enrichment service stopped")
	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) Orchestrator() *enrichment.Orchestrator { return s.orchestrator }
func (s *Service) Cache() types.CacheStore                { return s.store }
func (s *Service) Scorer() *scoring.Scorer                { return s.scorer }
func (s *Service) Health() *health.Manager                { return s.health }
func (s *Service) Metrics() types.MetricsManager          { return s.metrics }
func (s *Service) Logger() types.Logger                   { return s.logger }
func (s *Service) Config() *types.ServiceConfig           { return s.configManager.GetConfig() }
func (s *Service) Context() context.Context               { return s.ctx }

func (s *Service) scheduleSweep() error {
	schedule := s.configManager.GetConfig().Cron.SweepSchedule
	if schedule == "" {
		return nil
	}

	return s.cron.Add(sweepJobName, schedule, func() {
		deleted, err := s.orchestrator.SweepStaleVersions(s.ctx)
		if err != nil {
			s.logger.Error("Stale version sweep failed", zap.Error(err))
			return
		}
		if deleted > 0 {
			s.logger.Info("Stale version sweep completed",
				zap.Int64("deleted", deleted))
		}
	})
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if err := s.Stop(); err != nil && !types.IsError(err, types.ErrComponentNotRunning) {
				s.logger.Error("Error during shutdown", zap.Error(err))
			}
		case <-s.ctx.Done():
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	if s.getState() == StateRunning {
		// parent context cancelled from outside, shut components down
		if err := s.Stop(); err != nil && !types.IsError(err, types.ErrComponentNotRunning) {
			s.logger.Error("Error during context-driven shutdown", zap.Error(err))
		}
	}
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	return s.state.CompareAndSwap(s.getState(), newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
