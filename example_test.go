package minicache_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/minicache"
	"github.com/pior/minicache/protocol"
)

func ExampleNewClient() {
	servers := minicache.NewStaticServers("localhost:11211", "localhost:11212")

	client, err := minicache.NewClient(servers, minicache.Config{
		MaxSize:             10,
		MaxConnIdleTime:     time.Minute,
		HealthCheckInterval: 30 * time.Second,
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	ctx := context.Background()

	_ = client.Set(ctx, minicache.Item{Key: "user:123", Value: []byte("John"), TTL: time.Hour})

	item, err := client.Get(ctx, "user:123")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if item.Found {
		fmt.Printf("user:123 = %s\n", item.Value)
	}
}

// Optimistic update of a counter kept as text.
func ExampleClient_CompareAndSwap() {
	client, err := minicache.NewClient(minicache.NewStaticServers("localhost:11211"), minicache.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	ctx := context.Background()

	for {
		item, err := client.Gets(ctx, "visits")
		if err != nil || !item.Found {
			return
		}

		item.Value = append(item.Value, '+')
		err = client.CompareAndSwap(ctx, item)
		if errors.Is(err, minicache.ErrCASConflict) {
			continue // Someone else won, read again
		}
		if err != nil {
			fmt.Println("error:", err)
		}
		return
	}
}

func ExampleNewCircuitBreakerConfig() {
	servers := minicache.NewStaticServers("localhost:11211", "localhost:11212")

	client, err := minicache.NewClient(servers, minicache.Config{
		MaxSize: 10,
		NewCircuitBreaker: minicache.NewCircuitBreakerConfig(
			3,              // maxRequests in half-open state
			time.Minute,    // interval to reset failure counts
			10*time.Second, // timeout before transitioning to half-open
		),
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	_ = client.Set(context.Background(), minicache.Item{Key: "user:123", Value: []byte("John")})

	for _, serverStats := range client.AllPoolStats() {
		fmt.Printf("Server: %s, Circuit: %s\n", serverStats.Addr, serverStats.CircuitBreakerState)
	}
}

func ExampleConfig_NewCircuitBreaker() {
	client, err := minicache.NewClient(minicache.NewStaticServers("localhost:11211"), minicache.Config{
		NewCircuitBreaker: func(serverAddr string) *minicache.CircuitBreaker {
			return gobreaker.NewCircuitBreaker[*protocol.Response](gobreaker.Settings{
				Name:    serverAddr,
				Timeout: 5 * time.Second,
				OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
					fmt.Printf("circuit %s: %s -> %s\n", name, from, to)
				},
			})
		},
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()
}

func ExampleClient_Stats() {
	client, err := minicache.NewClient(minicache.NewStaticServers("localhost:11211"), minicache.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	ctx := context.Background()
	_, _ = client.MultiGet(ctx, []string{"a", "b", "c"})

	stats := client.Stats()
	if stats.Gets > 0 {
		fmt.Printf("hit rate: %.2f\n", float64(stats.GetHits)/float64(stats.Gets))
	}
}
