package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/signing"
)

// Scheduler drives the rotation service and the registry cache refresh
// on their configured intervals. Each job runs in its own loop, so a
// slow lifecycle pass never delays a cache refresh, and a given job
// never overlaps with itself.
type Scheduler struct {
	service  *Service
	registry *signing.Registry
	cfg      config.RotationConfig
	logger   logging.Logger

	stop     chan struct{}
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
}

func NewScheduler(service *Service, registry *signing.Registry, cfg config.RotationConfig, logger logging.Logger) *Scheduler {
	return &Scheduler{
		service:  service,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start launches the scheduled loops. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.service.Start(ctx)

	if s.cfg.Enabled && s.cfg.RotationInterval > 0 {
		s.launch("rotate", s.cfg.RotationInterval, func(ctx context.Context) {
			if err := s.service.Rotate(ctx); err != nil {
				s.logger.Error(ctx, "Scheduled key rotation failed", logging.Error("error", err))
			}
		})
	}
	if s.cfg.Enabled && s.cfg.CleanupInterval > 0 {
		s.launch("lifecycle", s.cfg.CleanupInterval, func(ctx context.Context) {
			s.service.ProcessLifecycle(ctx)
		})
	}
	if s.cfg.CacheRefreshInterval > 0 {
		s.launch("cache-refresh", s.cfg.CacheRefreshInterval, func(ctx context.Context) {
			if err := s.registry.RefreshCache(ctx); err != nil {
				s.logger.Error(ctx, "Signing key cache refresh failed", logging.Error("error", err))
			}
		})
	}

	s.logger.Info(ctx, "Key rotation scheduler started",
		logging.Bool("rotation_enabled", s.cfg.Enabled),
		logging.Duration("rotation_interval", s.cfg.RotationInterval),
		logging.Duration("cleanup_interval", s.cfg.CleanupInterval),
		logging.Duration("cache_refresh_interval", s.cfg.CacheRefreshInterval))
}

// Stop signals every loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if !s.started {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.started = false
	s.stop = make(chan struct{})
}

func (s *Scheduler) launch(name string, interval time.Duration, job func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				s.logger.Debug(context.Background(), "Scheduler loop stopped",
					logging.String("job", name))
				return
			case <-ticker.C:
				job(context.Background())
			}
		}
	}()
}
