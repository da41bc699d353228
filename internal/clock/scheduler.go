package clock

import (
	"context"
	"sync"
	"time"
)

// ScheduleConfig holds the drift-correction schedule. The delays were
// tuned empirically: an early loose correction right after the play
// round trip, a tight correction once the network settles, then a
// recurring tight correction for as long as playback continues.
type ScheduleConfig struct {
	FirstDelay  time.Duration
	SecondDelay time.Duration
	Interval    time.Duration
	LooseFilter float64
	TightFilter float64
}

// Scheduler drives periodic re-synchronization while playback runs.
// Start replaces any previous schedule; Stop cancels all pending timers.
type Scheduler struct {
	sync *Synchronizer
	cfg  ScheduleConfig

	mu     sync.Mutex
	gen    int
	cancel context.CancelFunc
	timers []*time.Timer
	ticker *time.Ticker
}

// NewScheduler creates a scheduler over the synchronizer.
func NewScheduler(s *Synchronizer, cfg ScheduleConfig) *Scheduler {
	return &Scheduler{sync: s, cfg: cfg}
}

// Start arms the two-stage correction schedule followed by recurring
// re-syncs. The schedule runs on its own context: it must outlive the
// request that armed it and keeps firing until Stop or a replacement
// Start. Any schedule already running is cancelled first.
func (sc *Scheduler) Start() {
	sc.Stop()

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.gen++
	gen := sc.gen
	ctx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel

	sc.timers = []*time.Timer{
		time.AfterFunc(sc.cfg.FirstDelay, func() {
			sc.run(ctx, gen, sc.cfg.LooseFilter)
		}),
		time.AfterFunc(sc.cfg.SecondDelay, func() {
			sc.run(ctx, gen, sc.cfg.TightFilter)
		}),
	}

	ticker := time.NewTicker(sc.cfg.Interval)
	sc.ticker = ticker
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sc.run(ctx, gen, sc.cfg.TightFilter)
			}
		}
	}()
}

// Stop cancels every pending timer immediately. Safe to call when no
// schedule is running.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.gen++
	for _, t := range sc.timers {
		t.Stop()
	}
	sc.timers = nil
	if sc.ticker != nil {
		sc.ticker.Stop()
		sc.ticker = nil
	}
	if sc.cancel != nil {
		sc.cancel()
		sc.cancel = nil
	}
}

func (sc *Scheduler) run(ctx context.Context, gen int, filter float64) {
	sc.mu.Lock()
	stale := gen != sc.gen
	sc.mu.Unlock()
	if stale || ctx.Err() != nil {
		return
	}
	sc.sync.Resynchronize(ctx, filter)
}
