package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Poller runs the processor on a fixed interval.  It runs as a background
// goroutine and is safe to stop via its context or the Stop method.  A
// cycle in flight is never interrupted mid-worker; cancellation takes
// effect between cycles.
type Poller struct {
	proc     *Processor
	interval time.Duration
	logger   zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPoller creates a poller but does not start it.  Call Start to begin
// the background loop.
func NewPoller(proc *Processor, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		proc:     proc,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the background polling loop.  It runs an immediate cycle on
// startup, then repeats on the configured interval.  The loop exits when
// ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	go p.loop(ctx)

	p.logger.Info().Dur("interval", p.interval).Msg("sync poller started")
}

// Stop signals the poller to exit and waits for it to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	// Run immediately on startup to drain any backlog.
	p.cycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	if err := p.proc.ProcessCycle(ctx); err != nil {
		p.logger.Error().Err(err).Msg("sync cycle failed")
	}
}
