package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultPruneInterval = 24 * time.Hour

// DispatchPruner deletes dispatch history older than a cutoff.
type DispatchPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PrunerConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// Pruner keeps the dispatch log bounded by retention age.
type Pruner struct {
	store     DispatchPruner
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPruner(store DispatchPruner, cfg PrunerConfig, logger *zap.Logger) (*Pruner, error) {
	if cfg.RetentionDays <= 0 {
		return nil, fmt.Errorf("retention must be at least one day, got %d", cfg.RetentionDays)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPruneInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{
		store:     store,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  cfg.Interval,
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}, nil
}

func (p *Pruner) Start() {
	p.wg.Add(1)
	go p.run()
}

func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pruner) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runLogged()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runLogged()
		}
	}
}

func (p *Pruner) runLogged() {
	if _, err := p.RunPrune(context.Background()); err != nil {
		p.logger.Error("dispatch log prune failed", zap.Error(err))
	}
}

// RunPrune removes rows older than the retention window once.
func (p *Pruner) RunPrune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune dispatch log: %w", err)
	}
	if n > 0 {
		p.logger.Info("pruned dispatch log", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
