package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hivemesh/swarmcore/internal/config"
)

// Sweeper drives the registry's periodic health sweep. Transitions it
// causes are delivered through the registry's transition callback, which
// is what triggers reassignment of work held by unreachable agents.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper over the given registry.
func NewSweeper(registry *Registry, cfg config.RegistryConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			transitions := s.registry.Sweep(0)
			if len(transitions) > 0 {
				s.logger.Info("health sweep applied transitions",
					zap.Int("count", len(transitions)))
			}
		}
	}
}
