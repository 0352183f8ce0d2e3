package minicache

import (
	"context"
	"sync/atomic"

	"github.com/pior/minicache/protocol"
)

// PoolStats contains statistics about a connection pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, DialErrors, AcquireErrors
//   - Histogram: AcquireWaitDuration (use AcquireWaitCount and AcquireWaitTimeNs to calculate)
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	DialErrors        uint64 // Connections that could not be established
	AcquireErrors     uint64 // Failed acquire attempts, dial errors included
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// connCounters tracks the lifecycle of pooled connections, which the pool
// library does not count itself.
type connCounters struct {
	created, destroyed, dialErrors atomic.Uint64
}

func (c *connCounters) wrapDial(dial func(ctx context.Context) (*Connection, error)) func(ctx context.Context) (*Connection, error) {
	return func(ctx context.Context) (*Connection, error) {
		conn, err := dial(ctx)
		if err != nil {
			c.dialErrors.Add(1)
			return nil, err
		}
		c.created.Add(1)
		return conn, nil
	}
}

func (c *connCounters) closeConn(conn *Connection) {
	c.destroyed.Add(1)
	_ = conn.Close()
}

func (c *connCounters) fill(stats *PoolStats) {
	stats.CreatedConns = c.created.Load()
	stats.DestroyedConns = c.destroyed.Load()
	stats.DialErrors = c.dialErrors.Load()
	stats.AcquireErrors += stats.DialErrors
}

// ClientStats contains statistics about client operations.
//
// For Prometheus integration, expose these as counters, and derive the hit
// rate as GetHits/Gets.
type ClientStats struct {
	Gets         uint64 // Total get and gets operations
	GetHits      uint64 // Get operations that found the key
	Sets         uint64
	Adds         uint64
	Replaces     uint64
	Appends      uint64
	Prepends     uint64
	CAS          uint64 // Total cas operations
	CASConflicts uint64 // cas operations answered EXISTS
	Deletes      uint64
	NotStored    uint64 // Conditional writes answered NOT_STORED
	Errors       uint64 // Transport failures and error lines
}

// clientStatsCollector updates ClientStats atomically.
type clientStatsCollector struct {
	gets, getHits                        atomic.Uint64
	sets, adds, replaces                 atomic.Uint64
	appends, prepends                    atomic.Uint64
	cas, casConflicts, deletes, notStore atomic.Uint64
	errors                               atomic.Uint64
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

// record accounts for one request and its outcome. resp is nil when the
// exchange failed.
func (c *clientStatsCollector) record(req *protocol.Request, resp *protocol.Response, err error) {
	switch req.Verb {
	case protocol.VerbGet, protocol.VerbGets:
		c.gets.Add(1)
	case protocol.VerbSet:
		c.sets.Add(1)
	case protocol.VerbAdd:
		c.adds.Add(1)
	case protocol.VerbReplace:
		c.replaces.Add(1)
	case protocol.VerbAppend:
		c.appends.Add(1)
	case protocol.VerbPrepend:
		c.prepends.Add(1)
	case protocol.VerbCAS:
		c.cas.Add(1)
	case protocol.VerbDelete:
		c.deletes.Add(1)
	}

	if err != nil || resp == nil || resp.HasError() {
		c.errors.Add(1)
		return
	}

	switch resp.Status {
	case protocol.StatusValue:
		c.getHits.Add(1)
	case protocol.StatusExists:
		c.casConflicts.Add(1)
	case protocol.StatusNotStored:
		c.notStore.Add(1)
	}
}

func (c *clientStatsCollector) recordError() {
	c.errors.Add(1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:         c.gets.Load(),
		GetHits:      c.getHits.Load(),
		Sets:         c.sets.Load(),
		Adds:         c.adds.Load(),
		Replaces:     c.replaces.Load(),
		Appends:      c.appends.Load(),
		Prepends:     c.prepends.Load(),
		CAS:          c.cas.Load(),
		CASConflicts: c.casConflicts.Load(),
		Deletes:      c.deletes.Load(),
		NotStored:    c.notStore.Load(),
		Errors:       c.errors.Load(),
	}
}
