// Package batch coalesces small, frequent units of work — here, the cache
// engine's block writebacks — into fewer round trips to the transport.
// Adapted from a microbatch-style design: the same ping-pong channel
// handshake between Submit and the run loop, the same size-or-interval
// flush trigger, generalized to a domain where callers don't carry a
// context.Context down to every Submit call.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Config configures a Batcher. Zero fields take the defaults documented
// below, so a zero Config is valid; New panics only if MaxSize and
// FlushInterval are both set non-positive.
type Config struct {
	// MaxSize caps the number of jobs per batch. Defaults to 16 if zero.
	MaxSize int
	// FlushInterval bounds how long an incomplete batch waits before it is
	// flushed anyway. Defaults to 50ms if zero; set negative to disable
	// time-based flushing entirely (MaxSize-only batching).
	FlushInterval time.Duration
	// MaxConcurrency bounds concurrent Processor invocations. Defaults to 1.
	MaxConcurrency int
}

// Processor runs one batch of jobs. Any error is returned to every
// JobResult.Wait call for that batch.
type Processor[Job any] func(jobs []Job) error

// Batcher groups Submit calls into batches dispatched to a Processor.
type Batcher[Job any] struct {
	processor      Processor[Job]
	maxSize        int
	flushInterval  time.Duration
	maxConcurrency int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}

	jobCh    chan Job
	batchCh  chan *pending[Job]
	flushNow chan chan struct{}
	state    *pending[Job]
}

type pending[Job any] struct {
	err  error
	done chan struct{}
	jobs []Job
}

func newPending[Job any]() *pending[Job] { return &pending[Job]{done: make(chan struct{})} }

// JobResult is returned by Submit; Wait blocks until the job's batch runs.
type JobResult[Job any] struct {
	Job   Job
	batch *pending[Job]
}

// Wait blocks until this job's batch has been processed, returning the
// Processor's error, if any.
func (r *JobResult[Job]) Wait() error {
	<-r.batch.done
	return r.batch.err
}

// New constructs a Batcher. config may be nil (all defaults apply).
// Panics if processor is nil or both MaxSize and FlushInterval are disabled.
func New[Job any](config *Config, processor Processor[Job]) *Batcher[Job] {
	if processor == nil {
		panic("batch: nil processor")
	}
	b := &Batcher[Job]{
		processor:      processor,
		maxSize:        16,
		flushInterval:  50 * time.Millisecond,
		maxConcurrency: 1,
		state:          newPending[Job](),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
		jobCh:          make(chan Job),
		batchCh:        make(chan *pending[Job]),
		flushNow:       make(chan chan struct{}),
	}
	if config != nil {
		if config.MaxSize != 0 {
			b.maxSize = config.MaxSize
		}
		if config.FlushInterval != 0 {
			b.flushInterval = config.FlushInterval
		}
		if config.MaxConcurrency != 0 {
			b.maxConcurrency = config.MaxConcurrency
		}
	}
	if b.flushInterval <= 0 && b.maxSize <= 0 {
		panic("batch: one of MaxSize or FlushInterval must be positive")
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.run()
	return b
}

// Submit schedules job, returning a JobResult to wait on. If the Batcher
// has been closed, the returned JobResult's Wait reports an error.
func (b *Batcher[Job]) Submit(job Job) *JobResult[Job] {
	select {
	case <-b.stopped:
		p := newPending[Job]()
		p.err = errors.New("batch: submit after close")
		close(p.done)
		return &JobResult[Job]{Job: job, batch: p}
	case b.jobCh <- job:
		batch := <-b.batchCh
		return &JobResult[Job]{Job: job, batch: batch}
	}
}

// Flush forces the current partial batch to run immediately, without
// waiting for MaxSize or FlushInterval. A no-op if no jobs are pending.
func (b *Batcher[Job]) Flush() {
	done := make(chan struct{})
	select {
	case <-b.stopped:
		return
	case b.flushNow <- done:
		<-done
	}
}

// Close stops accepting new jobs, runs any pending partial batch, and
// blocks until every in-flight batch has finished and the run loop has
// exited.
func (b *Batcher[Job]) Close() error {
	b.stopOnce.Do(func() { close(b.stopped) })
	<-b.done
	return nil
}

func (b *Batcher[Job]) run() {
	defer close(b.done)
	defer b.cancel()

	var wg sync.WaitGroup
	wg.Add(1)

	var sem chan struct{}
	if b.maxConcurrency > 0 {
		sem = make(chan struct{}, b.maxConcurrency)
	}

	runBatch := func() {
		if len(b.state.jobs) == 0 {
			return
		}
		batch := b.state
		b.state = newPending[Job]()
		wg.Add(1)
		if sem != nil {
			sem <- struct{}{}
		}
		go func() {
			defer func() {
				if sem != nil {
					<-sem
				}
				wg.Done()
			}()
			batch.err = b.processor(batch.jobs)
			close(batch.done)
		}()
	}

	flushTimerCh := make(chan *pending[Job])

	for {
		select {
		case <-b.stopped:
			runBatch()
			wg.Done()
			wg.Wait()
			return

		case job := <-b.jobCh:
			b.batchCh <- b.state
			b.state.jobs = append(b.state.jobs, job)
			switch {
			case b.maxSize > 0 && len(b.state.jobs) >= b.maxSize:
				runBatch()
			case b.flushInterval > 0 && len(b.state.jobs) == 1:
				batch := b.state
				timer := time.NewTimer(b.flushInterval)
				go func() {
					defer timer.Stop()
					select {
					case <-b.stopped:
					case <-batch.done:
					case <-timer.C:
						select {
						case <-b.stopped:
						case <-batch.done:
						case flushTimerCh <- batch:
						}
					}
				}()
			}

		case batch := <-flushTimerCh:
			if batch == b.state {
				runBatch()
			}

		case done := <-b.flushNow:
			runBatch()
			close(done)
		}
	}
}
