package builtin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Queue is a FIFO of playbook values shared between steps or, when backed
// by redis, between processes.
type Queue interface {
	Put(ctx context.Context, item any) error
	// Get removes the oldest item. Without block it returns nil when the
	// queue is empty.
	Get(ctx context.Context, block bool) (any, error)
}

// MemoryQueue is an unbounded in-process queue.
type MemoryQueue struct {
	mu    sync.Mutex
	items []any
	ready chan struct{}
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{ready: make(chan struct{})}
}

// Put appends item and wakes blocked readers.
func (q *MemoryQueue) Put(_ context.Context, item any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	close(q.ready)
	q.ready = make(chan struct{})
	return nil
}

// Get implements Queue.
func (q *MemoryQueue) Get(ctx context.Context, block bool) (any, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		ready := q.ready
		q.mu.Unlock()

		if !block {
			return nil, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// RedisQueue stores JSON-encoded items in a redis list.
type RedisQueue struct {
	client *backend.Client
	key    string
}

const queuePrefix = "playbook:queue:"

// NewRedisQueue returns a queue on the list named name.
func NewRedisQueue(client *backend.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, key: queuePrefix + name}
}

// Key returns the redis key holding the list.
func (q *RedisQueue) Key() string { return q.key }

// Put implements Queue.
func (q *RedisQueue) Put(ctx context.Context, item any) error {
	data, err := encodeJSON(item)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("queue put: %w", err)
	}
	return nil
}

// Get implements Queue.
func (q *RedisQueue) Get(ctx context.Context, block bool) (any, error) {
	var data string
	if block {
		res, err := q.client.BLPop(ctx, 0, q.key).Result()
		if err != nil {
			return nil, fmt.Errorf("queue get: %w", err)
		}
		data = res[1]
	} else {
		res, err := q.client.LPop(ctx, q.key).Result()
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("queue get: %w", err)
		}
		data = res
	}
	return decodeJSON([]byte(data))
}

type createQueueArgs struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

func queueActions() map[string]action.Action {
	return map[string]action.Action{
		"queue.create": typed("queue.create", schema.ActionSpec{
			Description: "Create a queue",
			Arguments: []schema.ArgSpec{
				{Name: "url", Type: "string", Description: "Optional redis:// URL. The queue is kept in process when omitted."},
				{Name: "name", Type: "string", Description: "Name of the redis list. A random name is used when omitted."},
			},
		}, func(_ context.Context, _ action.Call, a createQueueArgs) (any, error) {
			if a.URL == "" {
				return NewMemoryQueue(), nil
			}
			opts, err := backend.ParseURL(a.URL)
			if err != nil {
				return nil, fmt.Errorf("queue.create: %w", err)
			}
			if a.Name == "" {
				a.Name = uuid.NewString()
			}
			return NewRedisQueue(backend.NewClient(opts), a.Name), nil
		}),
		"queue.put": fn("queue.put", schema.ActionSpec{
			Description: "Put item into the queue.",
			Arguments: []schema.ArgSpec{
				{Name: "item", Type: "object", Description: "The object will be put into the queue.", Required: true},
			},
		}, func(ctx context.Context, c action.Call) (any, error) {
			q, err := queueArg(c)
			if err != nil {
				return nil, err
			}
			item, _ := c.Arg(1, "item")
			return nil, q.Put(ctx, item)
		}),
		"queue.get": fn("queue.get", schema.ActionSpec{
			Description: "Remove and return an item from the queue.",
			Arguments: []schema.ArgSpec{
				{Name: "block", Type: "bool", Description: "If true, block until an item is available, otherwise return an item or None"},
			},
		}, func(ctx context.Context, c action.Call) (any, error) {
			q, err := queueArg(c)
			if err != nil {
				return nil, err
			}
			block := true
			if v, ok := c.Arg(1, "block"); ok {
				block = eval.Truthy(v)
			}
			return q.Get(ctx, block)
		}),
	}
}

func queueArg(c action.Call) (Queue, error) {
	v, _ := c.Arg(0, "q")
	q, ok := v.(Queue)
	if !ok {
		return nil, fmt.Errorf("first argument is not a queue: %T", v)
	}
	return q, nil
}
