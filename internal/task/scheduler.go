// Package task runs background maintenance jobs on a fixed interval.
package task

import (
	"context"
	"sync"
	"time"
)

const defaultSchedulerInterval = time.Minute

// Job is one unit of background maintenance work. The context is cancelled
// when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a job repeatedly on a fixed interval. Kick runs the job
// ahead of schedule without waiting for the next tick.
type Scheduler struct {
	interval   time.Duration
	job        Job
	kick       chan struct{}
	stateMutex sync.Mutex
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewScheduler constructs a Scheduler. A non-positive interval falls back to
// the default.
func NewScheduler(interval time.Duration, job Job) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	return &Scheduler{
		interval: interval,
		job:      job,
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the interval loop. Starting a running scheduler is a no-op.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.job == nil {
		return
	}
	scheduler.stateMutex.Lock()
	if scheduler.cancelLoop != nil {
		scheduler.stateMutex.Unlock()
		return
	}
	loopContext, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	scheduler.cancelLoop = cancel
	scheduler.loopDone = done
	scheduler.stateMutex.Unlock()

	go scheduler.loop(loopContext, done)
}

// Kick requests an immediate run. It never blocks; kicks arriving while one is
// already queued coalesce into a single run.
func (scheduler *Scheduler) Kick() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.kick <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for an in-flight run to finish. Stopping a
// stopped or never-started scheduler is a no-op.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.stateMutex.Lock()
	cancel := scheduler.cancelLoop
	done := scheduler.loopDone
	scheduler.cancelLoop = nil
	scheduler.loopDone = nil
	scheduler.stateMutex.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.kick:
			scheduler.job(ctx)
		case <-ticker.C:
			scheduler.job(ctx)
		}
	}
}
