// Package worker runs the asynchronous persistence writers. Session writes
// are sharded by session id so that each session's writes land in order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/draftd/internal/adapters/mq/queue"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/pkg/logger"
	"github.com/okian/draftd/pkg/metrics"
)

// Default writer configuration constants.
const (
	defaultQueueSize      = 1024
	defaultEnqueueTimeout = time.Second
	defaultWriteTimeout   = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Op names a persistence operation.
type Op string

const (
	OpSave   Op = "save"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Job is one queued write. Session is a private copy owned by the job.
type Job struct {
	Op        Op
	SessionID string
	Session   *draft.Session
}

// Store is the subset of the repository the writers call.
type Store interface {
	Save(ctx context.Context, s *draft.Session) error
	Update(ctx context.Context, s *draft.Session) error
	Delete(ctx context.Context, id string) error
}

// Worker drains one queue into the store.
type Worker interface {
	// Run starts the worker loop until the queue is closed and drained or ctx
	// is canceled.
	Run(ctx context.Context)

	// Shutdown waits for Run to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker applies jobs from an in-memory queue in FIFO order.
type InMemoryWorker struct {
	queue        queue.Queue[Job]
	store        Store
	name         string
	writeTimeout time.Duration

	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading q and writing to store.
func NewInMemoryWorker(q queue.Queue[Job], store Store, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:        q,
		store:        store,
		name:         "writer",
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run processes jobs until the queue is closed and empty.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		job, err := w.queue.Receive(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				w.logger.Error(ctx, "receive failed", logger.Error(err))
			}
			return
		}
		if err := w.process(ctx, job); err != nil {
			w.logger.Error(ctx, "persist failed",
				logger.String("sessionID", job.SessionID),
				logger.String("op", string(job.Op)),
				logger.Error(err),
			)
		}
	}
}

// Shutdown waits for the worker to finish or ctx to expire.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs a single job. Write failures are reported and never retried.
func (w *InMemoryWorker) process(ctx context.Context, job Job) error {
	start := time.Now()
	// The write must finish even when the loop context is being torn down.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
	defer cancel()

	var err error
	switch job.Op {
	case OpSave:
		err = w.store.Save(wctx, job.Session)
	case OpUpdate:
		err = w.store.Update(wctx, job.Session)
	case OpDelete:
		err = w.store.Delete(wctx, job.SessionID)
	default:
		err = fmt.Errorf("unknown op %q", job.Op)
	}

	result := "ok"
	if err != nil {
		result = "error"
		metrics.RecordErrorByComponent("writer", string(job.Op))
	}
	metrics.RecordPersist(string(job.Op), result, float64(time.Since(start).Milliseconds()))
	return err
}

// Pool owns one worker and one queue per shard.
type Pool struct {
	queues  []*queue.InMemoryQueue[Job]
	workers []*InMemoryWorker
	store   Store

	shards         int
	queueSize      int
	enqueueTimeout time.Duration

	logger logger.Logger
}

// NewPool creates a writer pool over store. It does nothing until Start.
func NewPool(store Store, opts ...PoolOption) *Pool {
	p := &Pool{
		store:          store,
		shards:         runtime.NumCPU(),
		queueSize:      defaultQueueSize,
		enqueueTimeout: defaultEnqueueTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("writer-pool")
	}
	if p.shards < 1 {
		p.shards = 1
	}

	p.queues = make([]*queue.InMemoryQueue[Job], p.shards)
	p.workers = make([]*InMemoryWorker, p.shards)
	for i := 0; i < p.shards; i++ {
		name := "writer-" + strconv.Itoa(i)
		p.queues[i] = queue.NewInMemoryQueue[Job](queue.WithCapacity(p.queueSize), queue.WithName(name))
		p.workers[i] = NewInMemoryWorker(p.queues[i], store,
			WithName(name),
			WithLogger(p.logger.Named(name)),
		)
	}
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Save queues an insert of s.
func (p *Pool) Save(ctx context.Context, s *draft.Session) error {
	return p.submit(ctx, Job{Op: OpSave, SessionID: s.ID, Session: s.Clone()})
}

// Update queues a write of the current state of s.
func (p *Pool) Update(ctx context.Context, s *draft.Session) error {
	return p.submit(ctx, Job{Op: OpUpdate, SessionID: s.ID, Session: s.Clone()})
}

// Delete queues removal of id.
func (p *Pool) Delete(ctx context.Context, id string) error {
	return p.submit(ctx, Job{Op: OpDelete, SessionID: id})
}

func (p *Pool) submit(ctx context.Context, job Job) error {
	q := p.queues[p.shard(job.SessionID)]
	if err := q.EnqueueWait(ctx, job, p.enqueueTimeout); err != nil {
		metrics.RecordPersistDropped()
		p.logger.Warn(ctx, "persist dropped",
			logger.String("sessionID", job.SessionID),
			logger.String("op", string(job.Op)),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// shard maps a session id to a queue. The mapping is stable for the
// lifetime of the pool.
func (p *Pool) shard(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Pending returns the number of queued writes across shards.
func (p *Pool) Pending() int {
	n := 0
	for _, q := range p.queues {
		n += q.Len()
	}
	return n
}

// Shards returns the number of writers.
func (p *Pool) Shards() int {
	return len(p.workers)
}

// Shutdown stops accepting writes and waits for queued ones to land.
func (p *Pool) Shutdown(ctx context.Context) error {
	for _, q := range p.queues {
		_ = q.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var failed int
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			failed++
			p.logger.Warn(ctx, "writer shutdown timed out", logger.Int("writer_id", i))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d writers did not drain: %w", failed, shutdownCtx.Err())
	}
	return nil
}
