package minicache

import (
	"context"
	"fmt"

	"github.com/pior/minicache/protocol"
)

// Executor executes a minicache request.
// The request key is used for server selection.
type Executor interface {
	Execute(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// BatchExecutor is an optional interface that Executors can implement to support
// efficient batch operations using pipelining.
// If the executor doesn't implement this, Commands will fall back to individual Execute calls.
type BatchExecutor interface {
	Executor
	ExecuteBatch(ctx context.Context, reqs []*protocol.Request) ([]*protocol.Response, error)
}

// Commands provides minicache command operations.
// This struct can be used independently with a custom Executor,
// or embedded in Client for full resilience features.
type Commands struct {
	executor Executor
}

var _ Querier = (*Commands)(nil)

// NewCommands creates a new Commands instance with the given executor.
func NewCommands(executor Executor) *Commands {
	return &Commands{
		executor: executor,
	}
}

// Get retrieves a single item. A missing key is not an error: the returned
// item has Found set to false.
func (c *Commands) Get(ctx context.Context, key string) (Item, error) {
	return c.retrieve(ctx, protocol.VerbGet, key)
}

// Gets retrieves a single item along with its CAS token, for a later
// CompareAndSwap.
func (c *Commands) Gets(ctx context.Context, key string) (Item, error) {
	return c.retrieve(ctx, protocol.VerbGets, key)
}

func (c *Commands) retrieve(ctx context.Context, verb protocol.Verb, key string) (Item, error) {
	resp, err := c.executor.Execute(ctx, &protocol.Request{Verb: verb, Key: key})
	if err != nil {
		return Item{}, err
	}
	return itemFromResponse(key, resp)
}

func itemFromResponse(key string, resp *protocol.Response) (Item, error) {
	if resp.HasError() {
		return Item{}, resp.Error
	}

	switch resp.Status {
	case protocol.StatusNotFound:
		return Item{Key: key, Found: false}, nil
	case protocol.StatusValue:
		return Item{
			Key:   key,
			Value: resp.Value,
			Flags: resp.Flags,
			CAS:   resp.CAS,
			Found: true,
		}, nil
	default:
		return Item{}, unexpectedStatus(resp)
	}
}

// MultiGet retrieves several keys. Items come back in the order of keys,
// with Found false for the missing ones.
// Requests are pipelined when the executor supports it.
func (c *Commands) MultiGet(ctx context.Context, keys []string) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	reqs := make([]*protocol.Request, len(keys))
	for i, key := range keys {
		reqs[i] = &protocol.Request{Verb: protocol.VerbGet, Key: key}
	}

	var resps []*protocol.Response
	if batch, ok := c.executor.(BatchExecutor); ok {
		var err error
		resps, err = batch.ExecuteBatch(ctx, reqs)
		if err != nil {
			return nil, err
		}
	} else {
		resps = make([]*protocol.Response, len(reqs))
		for i, req := range reqs {
			resp, err := c.executor.Execute(ctx, req)
			if err != nil {
				return nil, err
			}
			resps[i] = resp
		}
	}

	items := make([]Item, len(keys))
	for i, resp := range resps {
		item, err := itemFromResponse(keys[i], resp)
		if err != nil {
			return nil, fmt.Errorf("get %q: %w", keys[i], err)
		}
		items[i] = item
	}
	return items, nil
}

// Set stores an item unconditionally.
func (c *Commands) Set(ctx context.Context, item Item) error {
	return c.store(ctx, protocol.VerbSet, item)
}

// Add stores an item only if the key is absent.
// Returns ErrNotStored if the key already exists.
func (c *Commands) Add(ctx context.Context, item Item) error {
	return c.store(ctx, protocol.VerbAdd, item)
}

// Replace stores an item only if the key is present.
// Returns ErrNotStored if the key does not exist.
func (c *Commands) Replace(ctx context.Context, item Item) error {
	return c.store(ctx, protocol.VerbReplace, item)
}

// Append adds item.Value after the existing value.
// Returns ErrNotStored if the key does not exist.
func (c *Commands) Append(ctx context.Context, item Item) error {
	return c.store(ctx, protocol.VerbAppend, item)
}

// Prepend adds item.Value before the existing value.
// Returns ErrNotStored if the key does not exist.
func (c *Commands) Prepend(ctx context.Context, item Item) error {
	return c.store(ctx, protocol.VerbPrepend, item)
}

// CompareAndSwap stores an item only if item.CAS still matches the token of
// the stored item, as returned by Gets.
// Returns ErrCASConflict if the item changed since, ErrNotFound if it is gone.
func (c *Commands) CompareAndSwap(ctx context.Context, item Item) error {
	return c.store(ctx, protocol.VerbCAS, item)
}

func (c *Commands) store(ctx context.Context, verb protocol.Verb, item Item) error {
	req := &protocol.Request{
		Verb:  verb,
		Key:   item.Key,
		Flags: item.Flags,
		TTL:   item.TTL,
		Value: item.Value,
	}
	if verb == protocol.VerbCAS {
		req.CAS = item.CAS
	}

	resp, err := c.executor.Execute(ctx, req)
	if err != nil {
		return err
	}

	if resp.HasError() {
		return resp.Error
	}

	switch resp.Status {
	case protocol.StatusStored:
		return nil
	case protocol.StatusNotStored:
		return ErrNotStored
	case protocol.StatusExists:
		return ErrCASConflict
	case protocol.StatusNotFound:
		return ErrNotFound
	default:
		return unexpectedStatus(resp)
	}
}

// Delete removes an item.
// Deleting a missing key is not an error.
func (c *Commands) Delete(ctx context.Context, key string) error {
	resp, err := c.executor.Execute(ctx, &protocol.Request{Verb: protocol.VerbDelete, Key: key})
	if err != nil {
		return err
	}

	if resp.HasError() {
		return resp.Error
	}

	if resp.Status != protocol.StatusDeleted && resp.Status != protocol.StatusNotFound {
		return unexpectedStatus(resp)
	}
	return nil
}

func unexpectedStatus(resp *protocol.Response) error {
	return fmt.Errorf("%w: unexpected status %s", ErrServerError, resp.Status)
}
