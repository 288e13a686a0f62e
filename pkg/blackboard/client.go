package blackboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the read / merge-write contract of the shared state document.
// Read never blocks on writers. Update merges a partial atomically and
// returns the full resulting document.
type Store interface {
	Read(ctx context.Context) (*Document, error)
	Update(ctx context.Context, p *Partial) (*Document, error)
}

// maxUpdateRetries bounds optimistic-lock retries when writers collide.
const maxUpdateRetries = 50

// Client provides instance-scoped Redis access to the state document.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
	now          func() int64

	// mu serialises writers in this process; WATCH handles other processes.
	mu sync.Mutex
}

// NewClient creates a new blackboard client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: workbench instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		now:          func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Read returns the current document. A document that was never written is
// returned with UpdatedAt zero.
func (c *Client) Read(ctx context.Context) (*Document, error) {
	hashData, err := c.rdb.HGetAll(ctx, StateKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read state from Redis: %w", err)
	}

	doc, err := HashToDocument(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize state: %w", err)
	}
	return doc, nil
}

// Update merges p into the document under an optimistic lock and returns
// the document as written. Concurrent writers touching different fields
// never lose each other's changes; on the same field the last write wins.
// IfSession is checked inside the same transaction, so a partial whose
// session moved on fails with ErrSessionChanged and writes nothing.
func (c *Client) Update(ctx context.Context, p *Partial) (*Document, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := StateKey(c.instanceName)
	var written *Document

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read state from Redis: %w", err)
		}
		doc, err := HashToDocument(current)
		if err != nil {
			return fmt.Errorf("failed to deserialize state: %w", err)
		}

		if err := doc.Admit(p); err != nil {
			return err
		}
		next := doc.Apply(p, c.now())
		hash, err := DocumentToHash(next)
		if err != nil {
			return fmt.Errorf("failed to serialize state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hash)
			return nil
		})
		if err != nil {
			return err
		}
		written = next
		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := c.rdb.Watch(ctx, txf, key)
		if err == nil {
			return written, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrSessionChanged) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to write state to Redis: %w", err)
	}
	return nil, fmt.Errorf("failed to write state to Redis: too much contention after %d attempts", maxUpdateRetries)
}

// Reset deletes the document so the next Read reports it as never written.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.rdb.Del(ctx, StateKey(c.instanceName)).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for single-process deployments and tests.
type MemoryStore struct {
	mu  sync.RWMutex
	doc *Document
	now func() int64
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doc: NewDocument(),
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

// Read returns a copy of the current document.
func (m *MemoryStore) Read(ctx context.Context) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Clone(), nil
}

// Update merges p and returns a copy of the written document.
func (m *MemoryStore) Update(ctx context.Context, p *Partial) (*Document, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.doc.Admit(p); err != nil {
		return nil, err
	}
	m.doc = m.doc.Apply(p, m.now())
	return m.doc.Clone(), nil
}
