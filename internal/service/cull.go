package service

import (
	"context"
	"sync"
	"time"

	"marketstore/internal/repository"

	"go.uber.org/zap"
)

// CullConfig holds configuration for the cull scheduler.
type CullConfig struct {
	// Retention is how long collected items are kept. Zero disables the cull.
	Retention time.Duration

	// Interval is how often the scheduler runs.
	// Default: 1 hour
	Interval time.Duration
}

// Expirer ends listings past their deletion date.
type Expirer interface {
	ExpireDue(ctx context.Context) int
}

// CullScheduler periodically deletes collected container rows older than
// the retention and ends expired listings.
type CullScheduler struct {
	store     repository.DataHandler
	expirer   Expirer
	config    CullConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
	log       *zap.Logger
}

// NewCullScheduler creates a scheduler. expirer may be nil.
func NewCullScheduler(store repository.DataHandler, expirer Expirer, config CullConfig, log *zap.Logger) *CullScheduler {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}

	return &CullScheduler{
		store:   store,
		expirer: expirer,
		config:  config,
		stopCh:  make(chan struct{}),
		log:     log.Named("cull"),
	}
}

// Start runs one pass immediately and then one per interval.
func (s *CullScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.log.Info("cull scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("retention", s.config.Retention))

	s.wg.Add(1)
	go s.run()
}

func (s *CullScheduler) run() {
	defer s.wg.Done()
	s.tick()
	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stopCh:
			s.log.Info("cull scheduler stopped")
			return
		}
	}
}

func (s *CullScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if s.expirer != nil {
		s.expirer.ExpireDue(ctx)
	}
	if _, err := s.RunNow(ctx); err != nil {
		s.log.Error("cull failed", zap.Error(err))
	}
}

// RunNow deletes collected rows last updated before now minus the retention.
// It does nothing when the retention is zero.
func (s *CullScheduler) RunNow(ctx context.Context) (int64, error) {
	if s.config.Retention <= 0 {
		return 0, nil
	}
	threshold := time.Now().Add(-s.config.Retention)
	deleted, err := s.store.Cull(ctx, threshold)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.log.Info("culled collected items", zap.Int64("rows", deleted), zap.Time("older_than", threshold))
	} else {
		s.log.Debug("no collected items to cull")
	}
	return deleted, nil
}

// Stop stops the scheduler and waits for a running pass.
func (s *CullScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()
	})
	s.wg.Wait()
}
