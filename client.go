package minicache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pior/minicache/protocol"
)

// NoTTL represents an infinite TTL (no expiration).
const NoTTL = 0

// DefaultMaxSize is the per-server pool size used when Config.MaxSize is not set.
const DefaultMaxSize = 8

// healthCheckKey is fetched on idle connections; any well-formed answer means healthy.
const healthCheckKey = "__minicache_health__"

var (
	// ErrNotStored is returned when an add, replace, append or prepend
	// precondition does not hold.
	ErrNotStored = errors.New("minicache: item not stored")
	// ErrCASConflict is returned when a CompareAndSwap token is stale.
	ErrCASConflict = errors.New("minicache: compare-and-swap conflict")
	// ErrNotFound is returned when a CompareAndSwap targets a missing key.
	ErrNotFound = errors.New("minicache: item not found")
	// ErrServerError wraps responses the client does not expect.
	ErrServerError = errors.New("minicache: unexpected server response")
)

// Item is a cache entry as seen by the client.
type Item struct {
	Key   string
	Value []byte
	Flags uint32        // Opaque client flags
	TTL   time.Duration // Writes only, millisecond resolution; NoTTL never expires
	CAS   uint64        // Set by Gets, consumed by CompareAndSwap
	Found bool          // indicates whether the key was found in cache
}

type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	Gets(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, item Item) error
	Add(ctx context.Context, item Item) error
	Replace(ctx context.Context, item Item) error
	Append(ctx context.Context, item Item) error
	Prepend(ctx context.Context, item Item) error
	CompareAndSwap(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) error
}

// Config holds configuration for the minicache client connection pools.
type Config struct {
	// MaxSize is the maximum number of connections per server.
	// Defaults to DefaultMaxSize.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often to check idle connections for health.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Dialer is the net.Dialer used to create new connections.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// NewPool is the connection pool factory function.
	// If nil, NewPuddlePool is used.
	NewPool NewPoolFunc

	// SelectServer picks which server to use for a key.
	// If nil, DefaultServerSelector is used.
	SelectServer ServerSelector

	// NewCircuitBreaker creates a circuit breaker for a server.
	// Called once per server address when the pool is created.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker NewCircuitBreakerFunc

	// for testing purposes only
	constructor func(ctx context.Context) (*Connection, error)
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.NewPool == nil {
		c.NewPool = NewPuddlePool
	}
	if c.SelectServer == nil {
		c.SelectServer = DefaultServerSelector
	}
	return c
}

// Client is a minicache client routing each key to one of several servers.
// It keeps a connection pool per server, created on first use.
type Client struct {
	*Commands

	servers Servers
	config  Config

	mu    sync.RWMutex
	pools map[string]*ServerPool

	stopHealthCheck chan struct{}
	closeOnce       sync.Once

	stats *clientStatsCollector
}

var (
	_ Querier       = (*Client)(nil)
	_ BatchExecutor = (*Client)(nil)
)

// NewClient creates a new minicache client with the given servers and configuration.
// For a single server, use: NewClient(NewStaticServers("host:port"), config)
func NewClient(servers Servers, config Config) (*Client, error) {
	if len(servers.List()) == 0 {
		return nil, ErrNoServers
	}

	client := &Client{
		servers:         servers,
		config:          config.withDefaults(),
		pools:           make(map[string]*ServerPool),
		stopHealthCheck: make(chan struct{}),
		stats:           newClientStatsCollector(),
	}
	client.Commands = NewCommands(client)

	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Close stops the health checks and destroys all connections in all pools.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopHealthCheck)

		c.mu.Lock()
		defer c.mu.Unlock()

		for _, sp := range c.pools {
			sp.Close()
		}
	})
}

// Execute sends req to the server owning its key.
func (c *Client) Execute(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	sp, err := c.poolForKey(req.Key)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}

	resp, err := sp.Execute(ctx, req)
	c.stats.record(req, resp, err)
	return resp, err
}

// ExecuteBatch groups reqs by server and pipelines each group on one
// connection. Responses are returned in the order of reqs.
func (c *Client) ExecuteBatch(ctx context.Context, reqs []*protocol.Request) ([]*protocol.Response, error) {
	type group struct {
		sp      *ServerPool
		reqs    []*protocol.Request
		indexes []int
	}

	var groups []*group
	byAddr := make(map[string]*group)

	for i, req := range reqs {
		sp, err := c.poolForKey(req.Key)
		if err != nil {
			c.stats.recordError()
			return nil, err
		}
		g, ok := byAddr[sp.Address()]
		if !ok {
			g = &group{sp: sp}
			byAddr[sp.Address()] = g
			groups = append(groups, g)
		}
		g.reqs = append(g.reqs, req)
		g.indexes = append(g.indexes, i)
	}

	resps := make([]*protocol.Response, len(reqs))
	for _, g := range groups {
		groupResps, err := g.sp.ExecuteBatch(ctx, g.reqs)
		if err != nil {
			c.stats.recordError()
			return nil, fmt.Errorf("server %s: %w", g.sp.Address(), err)
		}
		for j, resp := range groupResps {
			c.stats.record(g.reqs[j], resp, nil)
			resps[g.indexes[j]] = resp
		}
	}
	return resps, nil
}

// poolForKey returns the pool of the server that should handle this key.
func (c *Client) poolForKey(key string) (*ServerPool, error) {
	servers := c.servers.List()
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	addr := servers[0]
	if len(servers) > 1 {
		addr = servers[c.config.SelectServer(key, len(servers))]
	}
	return c.getOrCreatePool(addr)
}

// getOrCreatePool gets or creates a pool for the given server address.
func (c *Client) getOrCreatePool(addr string) (*ServerPool, error) {
	// Fast path: read lock
	c.mu.RLock()
	sp, exists := c.pools[addr]
	c.mu.RUnlock()
	if exists {
		return sp, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sp, exists := c.pools[addr]; exists {
		return sp, nil
	}

	sp, err := NewServerPool(addr, c.config)
	if err != nil {
		return nil, err
	}
	c.pools[addr] = sp
	return sp, nil
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkAllPools()
		}
	}
}

func (c *Client) checkAllPools() {
	c.mu.RLock()
	pools := make([]*ServerPool, 0, len(c.pools))
	for _, sp := range c.pools {
		pools = append(pools, sp)
	}
	c.mu.RUnlock()

	for _, sp := range pools {
		c.checkPoolConnections(sp.pool)
	}
}

// checkPoolConnections destroys the idle connections that are stale or unhealthy.
func (c *Client) checkPoolConnections(pool Pool) {
	now := time.Now()

	for _, res := range pool.AcquireAllIdle() {
		if c.config.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > c.config.MaxConnLifetime {
			res.Destroy()
			continue
		}

		if c.config.MaxConnIdleTime > 0 && res.IdleDuration() > c.config.MaxConnIdleTime {
			res.Destroy()
			continue
		}

		if err := healthCheck(res.Value()); err != nil {
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

// healthCheck fetches a reserved key. The protocol has no noop command, and
// a miss is as good a proof of life as a hit.
func healthCheck(conn *Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := conn.Send(ctx, &protocol.Request{Verb: protocol.VerbGet, Key: healthCheckKey})
	if err != nil {
		return err
	}
	if resp.HasError() {
		return fmt.Errorf("health check failed: %w", resp.Error)
	}
	return nil
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// AllPoolStats returns stats for all server pools
func (c *Client) AllPoolStats() []ServerPoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ServerPoolStats, 0, len(c.pools))
	for _, sp := range c.pools {
		stats = append(stats, sp.Stats())
	}
	return stats
}
