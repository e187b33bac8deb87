package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var ErrDrainTimeout = errors.New("drain timeout")

type Options struct {
	Drainer Drainer
	Hooks   Hooks
	// DrainTimeout bounds Drain on shutdown. Zero means 10s.
	DrainTimeout time.Duration
	// Title is printed as the banner on Run. Empty disables the banner.
	Title  string
	Banner io.Writer
}

type LifecycleRunner struct {
	state    int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	opts     Options
	stopErr  error
}

func NewLifecycleRunner(opts Options) *LifecycleRunner {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:  int32(StateNew),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
	}
}

// Run blocks until ctx is cancelled or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return fmt.Errorf("invalid state transition from %s", r.State())
	}
	if r.opts.Title != "" {
		PrintBanner(r.opts.Banner, r.opts.Title)
	}
	// r.ctx is never reassigned. Stop cancels it; ctx is chained onto a child.
	runCtx, runCancel := context.WithCancel(r.ctx)
	defer runCancel()
	if ctx != nil {
		unlink := context.AfterFunc(ctx, runCancel)
		defer unlink()
	}
	if r.opts.Hooks.OnStart != nil {
		if err := r.opts.Hooks.OnStart(); err != nil {
			_ = r.stop()
			return fmt.Errorf("start: %w", err)
		}
	}
	// A concurrent Stop may already have moved past StateStarting.
	r.casState(StateStarting, StateRunning)
	<-runCtx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.opts.Drainer != nil {
			done := make(chan error, 1)
			go func() {
				done <- r.opts.Drainer.Drain()
			}()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.opts.DrainTimeout):
				r.stopErr = ErrDrainTimeout
			}
		}
		if r.opts.Hooks.OnStop != nil {
			r.opts.Hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
