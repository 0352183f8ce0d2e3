package minicache

import (
	"context"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/minicache/protocol"
)

// NewServerPool creates the connection pool and circuit breaker of one server.
func NewServerPool(addr string, config Config) (*ServerPool, error) {
	config = config.withDefaults()

	constructor := config.constructor
	if constructor == nil {
		constructor = func(ctx context.Context) (*Connection, error) {
			netConn, err := config.Dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, err
			}
			return NewConnection(netConn), nil
		}
	}

	pool, err := config.NewPool(constructor, config.MaxSize)
	if err != nil {
		return nil, err
	}

	sp := &ServerPool{
		addr: addr,
		pool: pool,
	}
	if config.NewCircuitBreaker != nil {
		sp.circuitBreaker = config.NewCircuitBreaker(addr)
	}
	return sp, nil
}

// ServerPool wraps a pool and a circuit breaker with its server address.
type ServerPool struct {
	addr           string
	pool           Pool
	circuitBreaker *CircuitBreaker // nil if not configured
}

var _ BatchExecutor = (*ServerPool)(nil)

func (sp *ServerPool) Address() string {
	return sp.addr
}

// ServerPoolStats contains stats for a single server pool
type ServerPoolStats struct {
	Addr                 string
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (sp *ServerPool) Stats() ServerPoolStats {
	stats := ServerPoolStats{
		Addr:      sp.addr,
		PoolStats: sp.pool.Stats(),
	}
	if sp.circuitBreaker != nil {
		stats.CircuitBreakerState = sp.circuitBreaker.State()
		stats.CircuitBreakerCounts = sp.circuitBreaker.Counts()
	}
	return stats
}

// Close destroys every connection of the pool.
func (sp *ServerPool) Close() {
	sp.pool.Close()
}

// Execute runs a single request-response cycle with proper connection management.
// It acquires a connection, sends the request, reads the response, and
// releases or destroys the connection depending on the error.
// The exchange goes through the server's circuit breaker when there is one.
func (sp *ServerPool) Execute(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if sp.circuitBreaker == nil {
		return sp.execRequestDirect(ctx, req)
	}

	return sp.circuitBreaker.Execute(func() (*protocol.Response, error) {
		return sp.execRequestDirect(ctx, req)
	})
}

// execRequestDirect performs the actual request execution without circuit breaker.
func (sp *ServerPool) execRequestDirect(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resource, err := sp.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := resource.Value().Send(ctx, req)
	if err != nil {
		if protocol.ShouldCloseConnection(err) {
			resource.Destroy()
		} else {
			resource.Release()
		}
		return nil, err
	}

	releaseAfter(resource, resp)
	return resp, nil
}

// ExecuteBatch pipelines reqs on a single connection and returns one
// response per request, in order. Every request gets exactly one response
// in this protocol, so no end marker is needed.
//
// The breaker is only consulted, not fed: it is typed for single responses.
// If the circuit is open, this returns gobreaker.ErrOpenState immediately.
func (sp *ServerPool) ExecuteBatch(ctx context.Context, reqs []*protocol.Request) ([]*protocol.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	if sp.circuitBreaker != nil && sp.circuitBreaker.State() == gobreaker.StateOpen {
		return nil, gobreaker.ErrOpenState
	}

	resource, err := sp.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	resps, err := resource.Value().SendBatch(ctx, reqs)
	if err != nil {
		if protocol.ShouldCloseConnection(err) {
			resource.Destroy()
		} else {
			resource.Release()
		}
		return nil, err
	}

	for _, resp := range resps {
		if resp.HasError() && protocol.ShouldCloseConnection(resp.Error) {
			resource.Destroy()
			return resps, nil
		}
	}
	resource.Release()
	return resps, nil
}

// releaseAfter returns the connection to the pool, unless the server
// answered with an error line that leaves the stream out of sync.
func releaseAfter(resource Resource, resp *protocol.Response) {
	if resp.HasError() && protocol.ShouldCloseConnection(resp.Error) {
		resource.Destroy()
		return
	}
	resource.Release()
}
