package minicache

import (
	"context"
	"time"
)

// Resource is a pooled connection checked out of a Pool.
type Resource interface {
	Value() *Connection

	// Release returns the connection to the pool.
	Release()

	// ReleaseUnused returns the connection without marking it as used,
	// so health checks do not reset its idle time.
	ReleaseUnused()

	// Destroy closes the connection and removes it from the pool.
	Destroy()

	CreationTime() time.Time
	IdleDuration() time.Duration
}

// Pool is a bounded pool of connections to a single server.
type Pool interface {
	// Acquire returns an idle connection or dials a new one, waiting for a
	// release when the pool is full.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle checks out every idle connection, for health checks.
	AcquireAllIdle() []Resource

	Close()
	Stats() PoolStats
}

// NewPoolFunc creates a Pool of at most maxSize connections built by constructor.
type NewPoolFunc func(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error)
