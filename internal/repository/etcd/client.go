// Package etcd provides the execution journal and the execution lock on etcd.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/config"
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

// Client wraps an etcd client with a session for distributed locking. Every
// key is relative to the configured prefix.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	prefix  string
	logger  *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30
	}
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:  client,
		session: session,
		prefix:  strings.TrimSuffix(cfg.Prefix, "/"),
		logger:  logger.With(zap.String("component", "etcd")),
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

func (c *Client) key(key string) string {
	return c.prefix + "/" + strings.TrimPrefix(key, "/")
}

// =============================================================================
// Key-Value Operations
// =============================================================================

// Put stores a value in etcd.
func (c *Client) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if _, err := c.client.Put(ctx, c.key(key), string(data)); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Get retrieves a value from etcd.
func (c *Client) Get(ctx context.Context, key string, dest any) error {
	resp, err := c.client.Get(ctx, c.key(key))
	if err != nil {
		return fmt.Errorf("failed to get key: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return ErrKeyNotFound
	}
	return json.Unmarshal(resp.Kvs[0].Value, dest)
}

// List returns the raw values stored under a key prefix.
func (c *Client) List(ctx context.Context, prefix string) ([][]byte, error) {
	resp, err := c.client.Get(ctx, c.key(prefix), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}
	return values, nil
}

// =============================================================================
// Distributed Locking
// =============================================================================

// Lock represents a distributed lock.
type Lock struct {
	mutex *concurrency.Mutex
}

// AcquireLock acquires a distributed lock.
func (c *Client) AcquireLock(ctx context.Context, key string) (*Lock, error) {
	mutex := concurrency.NewMutex(c.session, c.key("locks/"+key))

	if err := mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	c.logger.Debug("Acquired lock", zap.String("key", key))
	return &Lock{mutex: mutex}, nil
}

// TryAcquireLock tries to acquire a lock with a timeout.
func (c *Client) TryAcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.AcquireLock(ctx, key)
}

// Unlock releases a distributed lock.
func (l *Lock) Unlock(ctx context.Context) error {
	if l.mutex == nil {
		return nil
	}
	return l.mutex.Unlock(ctx)
}
