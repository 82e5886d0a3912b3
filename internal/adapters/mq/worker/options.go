package worker

import (
	"time"

	"github.com/okian/draftd/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWriteTimeout bounds each store call.
func WithWriteTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.writeTimeout = d
		}
	}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithShards sets the number of writers.
func WithShards(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.shards = n
		}
	}
}

// WithQueueSize sets the capacity of each shard queue.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithEnqueueTimeout sets how long a write waits for queue room before it
// is dropped.
func WithEnqueueTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.enqueueTimeout = d
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(l logger.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}
