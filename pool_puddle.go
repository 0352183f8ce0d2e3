package minicache

import (
	"context"

	"github.com/jackc/puddle/v2"
)

var _ NewPoolFunc = NewPuddlePool

// NewPuddlePool is the default NewPoolFunc, a puddle pool of at most maxSize
// connections. Destroyed connections are closed.
func NewPuddlePool(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error) {
	counters := &connCounters{}

	pool, err := puddle.NewPool(&puddle.Config[*Connection]{
		Constructor: counters.wrapDial(constructor),
		Destructor:  counters.closeConn,
		MaxSize:     maxSize,
	})
	if err != nil {
		return nil, err
	}

	return &puddlePool{Pool: pool, counters: counters}, nil
}

type puddlePool struct {
	*puddle.Pool[*Connection]
	counters *connCounters
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	res, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *puddlePool) AcquireAllIdle() []Resource {
	idle := p.Pool.AcquireAllIdle()

	resources := make([]Resource, 0, len(idle))
	for _, res := range idle {
		resources = append(resources, res)
	}
	return resources
}

func (p *puddlePool) Stats() PoolStats {
	s := p.Stat()

	stats := PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
	p.counters.fill(&stats)
	return stats
}
