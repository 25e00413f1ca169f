// Package pipeline implements the fan-out/fan-in pattern used for parallel
// digesting, transfers, and fixity checks.
package pipeline

import (
	"context"
	"runtime"
	"sync"
)

type pipeline[Tin, Tout any] struct {
	setupFn  func(add func(Tin) error) error
	workFn   func(ctx context.Context, in Tin) (Tout, error)
	resultFn func(out Tout) error
	numgos   int
	workQ    chan Tin
	resultQ  chan Tout
	workWG   sync.WaitGroup
	cancel   context.CancelFunc
	err      error
	errOnce  sync.Once
}

// Run fans work out to a bounded pool and fans results back in. The setup
// function feeds values into the work queue; workFn processes them in up to
// gos goroutines (default runtime.NumCPU()); resultFn receives results in
// the calling goroutine. The first error from any of the three functions
// cancels the internal context and is returned. Worker loops stop between
// items when ctx is cancelled, so partially-completed runs end promptly.
func Run[Tin, Tout any](
	ctx context.Context,
	setupFn func(add func(Tin) error) error,
	workFn func(ctx context.Context, in Tin) (Tout, error),
	resultFn func(out Tout) error,
	gos int,
) error {
	return (&pipeline[Tin, Tout]{
		numgos:   gos,
		setupFn:  setupFn,
		workFn:   workFn,
		resultFn: resultFn,
	}).run(ctx)
}

func (p *pipeline[Tin, Tout]) run(ctx context.Context) error {
	if p.numgos < 1 {
		p.numgos = runtime.NumCPU()
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel
	p.workQ = make(chan Tin, p.numgos)
	p.resultQ = make(chan Tout, p.numgos)

	// feed the work queue
	go func() {
		defer close(p.workQ)
		if p.setupFn == nil {
			return
		}
		add := func(w Tin) error {
			select {
			case p.workQ <- w:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := p.setupFn(add); err != nil {
			p.setError(err)
		}
	}()

	// workers
	p.workWG.Add(p.numgos)
	for i := 0; i < p.numgos; i++ {
		go p.worker(ctx)
	}
	go func() {
		defer close(p.resultQ)
		p.workWG.Wait()
	}()

	// collect results
	for out := range p.resultQ {
		if p.resultFn != nil {
			if err := p.resultFn(out); err != nil {
				p.setError(err)
			}
		}
	}
	if p.err == nil && parent.Err() != nil {
		// cancellation surfaced before any function reported it
		p.err = parent.Err()
	}
	return p.err
}

func (p *pipeline[Tin, Tout]) worker(ctx context.Context) {
	defer p.workWG.Done()
	for in := range p.workQ {
		if err := ctx.Err(); err != nil {
			return
		}
		var out Tout
		if p.workFn != nil {
			var err error
			out, err = p.workFn(ctx, in)
			if err != nil {
				p.setError(err)
				return
			}
		}
		select {
		case p.resultQ <- out:
		case <-ctx.Done():
			return
		}
	}
}

func (p *pipeline[Tin, Tout]) setError(err error) {
	if err == nil {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.errOnce.Do(func() { p.err = err })
}
