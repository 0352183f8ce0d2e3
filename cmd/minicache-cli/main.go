package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/pior/minicache"
)

func main() {
	var (
		servers = flag.String("servers", "localhost:11211", "Comma-separated list of minicache servers")
		timeout = flag.Duration("timeout", 2*time.Second, "Timeout of each command")
	)
	flag.Parse()

	client, err := minicache.NewClient(minicache.NewStaticServers(strings.Split(*servers, ",")...), minicache.Config{
		MaxSize: 1,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("minicache CLI")
		fmt.Println("=============")
		fmt.Println("Type 'help' for available commands.")
		fmt.Println()
	}

	sh := &shell{client: client, out: os.Stdout, timeout: *timeout}
	if err := sh.run(os.Stdin, interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// shell runs the commands read from its input against a client.
type shell struct {
	client  *minicache.Client
	out     io.Writer
	timeout time.Duration
}

func (sh *shell) run(in io.Reader, prompt bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(sh.out, "> ")
		}
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), sh.timeout)
		quit := sh.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		cancel()
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// execute runs one command and reports whether the shell should exit.
func (sh *shell) execute(ctx context.Context, command string, args []string) bool {
	switch command {
	case "get", "gets":
		if len(args) != 1 {
			sh.printf("Usage: %s <key>\n", command)
			return false
		}
		sh.get(ctx, command == "gets", args[0])

	case "set", "add", "replace", "append", "prepend":
		if len(args) < 2 || len(args) > 4 {
			sh.printf("Usage: %s <key> <value> [ttl_ms] [flags]\n", command)
			return false
		}
		item, err := parseItem(args[0], args[1], args[2:])
		if err != nil {
			sh.printf("Error: %v\n", err)
			return false
		}
		sh.store(ctx, command, item)

	case "cas":
		if len(args) < 3 || len(args) > 5 {
			sh.printf("Usage: cas <key> <value> <token> [ttl_ms] [flags]\n")
			return false
		}
		token, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			sh.printf("Error: invalid token %q\n", args[2])
			return false
		}
		item, err := parseItem(args[0], args[1], args[3:])
		if err != nil {
			sh.printf("Error: %v\n", err)
			return false
		}
		item.CAS = token
		sh.store(ctx, command, item)

	case "delete", "del":
		if len(args) != 1 {
			sh.printf("Usage: delete <key>\n")
			return false
		}
		sh.timed(func() error { return sh.client.Delete(ctx, args[0]) }, "DELETED")

	case "mget", "multi-get":
		if len(args) == 0 {
			sh.printf("Usage: mget <key1> <key2> ...\n")
			return false
		}
		sh.multiGet(ctx, args)

	case "stats":
		sh.stats()

	case "help":
		sh.help()

	case "quit", "exit":
		return true

	default:
		sh.printf("Unknown command: %s. Type 'help' for available commands.\n", command)
	}
	return false
}

func (sh *shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...)
}

func (sh *shell) get(ctx context.Context, withCAS bool, key string) {
	start := time.Now()
	var (
		item minicache.Item
		err  error
	)
	if withCAS {
		item, err = sh.client.Gets(ctx, key)
	} else {
		item, err = sh.client.Get(ctx, key)
	}
	duration := time.Since(start)

	switch {
	case err != nil:
		sh.printf("Error: %v (took %v)\n", err, duration)
	case !item.Found:
		sh.printf("NOT_FOUND (took %v)\n", duration)
	case withCAS:
		sh.printf("%s (flags=%d cas=%d, took %v)\n", item.Value, item.Flags, item.CAS, duration)
	default:
		sh.printf("%s (flags=%d, took %v)\n", item.Value, item.Flags, duration)
	}
}

func (sh *shell) store(ctx context.Context, command string, item minicache.Item) {
	var op func(context.Context, minicache.Item) error
	switch command {
	case "set":
		op = sh.client.Set
	case "add":
		op = sh.client.Add
	case "replace":
		op = sh.client.Replace
	case "append":
		op = sh.client.Append
	case "prepend":
		op = sh.client.Prepend
	case "cas":
		op = sh.client.CompareAndSwap
	}
	sh.timed(func() error { return op(ctx, item) }, "STORED")
}

func (sh *shell) timed(op func() error, success string) {
	start := time.Now()
	err := op()
	duration := time.Since(start)

	switch {
	case errors.Is(err, minicache.ErrNotStored):
		sh.printf("NOT_STORED (took %v)\n", duration)
	case errors.Is(err, minicache.ErrCASConflict):
		sh.printf("EXISTS (took %v)\n", duration)
	case errors.Is(err, minicache.ErrNotFound):
		sh.printf("NOT_FOUND (took %v)\n", duration)
	case err != nil:
		sh.printf("Error: %v (took %v)\n", err, duration)
	default:
		sh.printf("%s (took %v)\n", success, duration)
	}
}

func (sh *shell) multiGet(ctx context.Context, keys []string) {
	start := time.Now()
	items, err := sh.client.MultiGet(ctx, keys)
	duration := time.Since(start)

	if err != nil {
		sh.printf("Error: %v (took %v)\n", err, duration)
		return
	}

	found := 0
	for _, item := range items {
		if item.Found {
			found++
			sh.printf("  %s: %s\n", item.Key, item.Value)
		} else {
			sh.printf("  %s: <not found>\n", item.Key)
		}
	}
	sh.printf("Retrieved %d out of %d keys (took %v)\n", found, len(keys), duration)
}

func (sh *shell) stats() {
	stats := sh.client.Stats()
	sh.printf("Client Statistics:\n")
	sh.printf("  Gets: %d (hits: %d)\n", stats.Gets, stats.GetHits)
	sh.printf("  Sets: %d, Adds: %d, Replaces: %d\n", stats.Sets, stats.Adds, stats.Replaces)
	sh.printf("  Appends: %d, Prepends: %d\n", stats.Appends, stats.Prepends)
	sh.printf("  CAS: %d (conflicts: %d)\n", stats.CAS, stats.CASConflicts)
	sh.printf("  Deletes: %d, Not stored: %d, Errors: %d\n", stats.Deletes, stats.NotStored, stats.Errors)

	for _, pool := range sh.client.AllPoolStats() {
		sh.printf("Server %s:\n", pool.Addr)
		sh.printf("  Total Connections: %d\n", pool.PoolStats.TotalConns)
		sh.printf("  Active Connections: %d\n", pool.PoolStats.ActiveConns)
		sh.printf("  Created/Destroyed: %d/%d\n", pool.PoolStats.CreatedConns, pool.PoolStats.DestroyedConns)
	}
}

func (sh *shell) help() {
	sh.printf("Commands:\n")
	sh.printf("  get <key>                                - Get a value by key\n")
	sh.printf("  gets <key>                               - Get a value with its cas token\n")
	sh.printf("  set <key> <value> [ttl_ms] [flags]       - Store a value\n")
	sh.printf("  add|replace <key> <value> [ttl_ms] [flags]\n")
	sh.printf("  append|prepend <key> <value>             - Extend an existing value\n")
	sh.printf("  cas <key> <value> <token> [ttl_ms] [flags]\n")
	sh.printf("  delete <key>                             - Delete a key\n")
	sh.printf("  mget <key1> <key2> ...                   - Get multiple keys at once\n")
	sh.printf("  stats                                    - Show client statistics\n")
	sh.printf("  quit                                     - Exit the CLI\n")
}

// parseItem builds an item from a key, a value and the optional ttl
// (milliseconds) and flags arguments.
func parseItem(key, value string, opts []string) (minicache.Item, error) {
	item := minicache.Item{Key: key, Value: []byte(value)}

	if len(opts) > 0 {
		ms, err := strconv.Atoi(opts[0])
		if err != nil {
			return item, fmt.Errorf("invalid ttl %q", opts[0])
		}
		item.TTL = time.Duration(ms) * time.Millisecond
	}

	if len(opts) > 1 {
		flags, err := strconv.ParseUint(opts[1], 10, 32)
		if err != nil {
			return item, fmt.Errorf("invalid flags %q", opts[1])
		}
		item.Flags = uint32(flags)
	}

	return item, nil
}
