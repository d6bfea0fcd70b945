// Package worker runs filter design, filtering and export off the caller's
// goroutine. Requests are correlated by id; each reply travels on its own
// channel so callers never see another request's result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fkreview/channelfactory"
	"fkreview/filters"
	"fkreview/metrics"
	"fkreview/samplestore"

	"github.com/google/uuid"
)

// Operation names are part of the request log and metric labels.
const (
	OpDesignFilter          = "DESIGN_FILTER"
	OpFilterChannelSegments = "FILTER_CHANNEL_SEGMENTS"
	OpExportChannelSegments = "EXPORT_CHANNEL_SEGMENTS"
)

const defaultWorkers = 4

var (
	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("worker: pool is closed")

	errUnknownOp = errors.New("worker: unknown operation")
)

// Request is one unit of work.
type Request struct {
	ID      uuid.UUID
	Op      string
	Payload any

	ctx   context.Context
	reply chan response
}

type response struct {
	value any
	err   error
}

// Options configures a Pool.
type Options struct {
	Workers   int
	Store     samplestore.Store
	Designer  filters.Designer
	Publisher channelfactory.Publisher
}

// Pool is a fixed set of goroutines serving Requests.
//
// Thread Safety:
//   - All client methods are safe for concurrent use.
//   - A caller whose ctx ends gets ctx.Err() immediately; the worker still
//     finishes the request and drops the reply. Work already written to the
//     sample store is reused by later requests because Store is idempotent.
type Pool struct {
	requests  chan Request
	store     samplestore.Store
	designer  filters.Designer
	publisher channelfactory.Publisher

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Purpose: Start a worker pool.
// Key aspects: Workers <= 0 means 4; a nil designer uses Butterworth and a
// nil publisher drops announcements.
// Upstream: main startup, tests.
// Downstream: Pool.run goroutines.
func NewPool(opts Options) *Pool {
	n := opts.Workers
	if n <= 0 {
		n = defaultWorkers
	}
	designer := opts.Designer
	if designer == nil {
		designer = filters.ButterworthDesigner{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = channelfactory.NopPublisher{}
	}
	p := &Pool{
		requests:  make(chan Request, n*4),
		store:     opts.Store,
		designer:  designer,
		publisher: publisher,
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for req := range p.requests {
		start := time.Now()
		value, err := p.handle(req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.WorkerRequests.WithLabelValues(req.Op, outcome).Inc()
		metrics.WorkerLatency.WithLabelValues(req.Op).Observe(time.Since(start).Seconds())
		// Reply channels are buffered so an abandoned request never blocks a worker.
		req.reply <- response{value: value, err: err}
	}
}

func (p *Pool) handle(req Request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker: request %s (%s) panicked: %v", req.ID, req.Op, r)
			err = fmt.Errorf("worker: %s panicked: %v", req.Op, r)
		}
	}()
	// Work outlives an impatient caller.
	ctx := context.WithoutCancel(req.ctx)
	switch req.Op {
	case OpDesignFilter:
		in := req.Payload.(designParams)
		return p.designer.Design(ctx, in.def, in.taper, in.removeGroupDelay)
	case OpFilterChannelSegments:
		return filterChannelSegments(ctx, p.store, p.publisher, req.Payload.(FilterParams))
	case OpExportChannelSegments:
		return exportChannelSegments(p.store, req.Payload.(ExportParams))
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownOp, req.Op)
	}
}

// call submits op and waits for its reply or ctx.
func (p *Pool) call(ctx context.Context, op string, payload any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := Request{
		ID:      uuid.New(),
		Op:      op,
		Payload: payload,
		ctx:     ctx,
		reply:   make(chan response, 1),
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case p.requests <- req:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting requests and waits for in-flight work.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.requests)
	p.mu.Unlock()
	p.wg.Wait()
}
