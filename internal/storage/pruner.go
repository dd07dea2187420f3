package storage

import (
	"context"
	"sync"
	"time"

	"printcalc/pkg/logger"
)

// Prunable deletes stored files older than a cutoff
type Prunable interface {
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// Pruner periodically removes expired uploads
type Pruner struct {
	store     Prunable
	interval  time.Duration
	olderThan time.Duration
	logger    *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPruner creates a pruner that runs every interval and deletes uploads
// older than olderThan
func NewPruner(store Prunable, interval, olderThan time.Duration, log *logger.Logger) *Pruner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Pruner{
		store:     store,
		interval:  interval,
		olderThan: olderThan,
		logger:    log,
	}
}

// Start runs one prune immediately and then on every tick until Stop
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.pruneOnce(ctx)

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(loopCtx, p.done)

	p.logger.WithFields(map[string]interface{}{
		"interval":   p.interval.String(),
		"older_than": p.olderThan.String(),
	}).Info("Upload pruner started")
	return nil
}

// Stop ends the loop and waits for an in-flight prune to finish
func (p *Pruner) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
		p.logger.Info("Upload pruner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pruner) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pruneOnce(ctx)
		}
	}
}

func (p *Pruner) pruneOnce(ctx context.Context) {
	if _, err := p.store.Prune(ctx, p.olderThan); err != nil && ctx.Err() == nil {
		p.logger.WithError(err).Error("Failed to prune uploads")
	}
}
