package minisftp

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPoolClosed is returned by GetOrCreate after Close.
var ErrPoolClosed = errors.New("minisftp: connection pool closed")

// ConnectionPool keeps idle clients for reuse, keyed by connection
// parameters.
//
// Leases are exclusive: a client handed out by GetOrCreate is never given
// to another caller until it is returned with Release. A Session carries
// one request at a time, so sharing one between callers would interleave
// their requests.
type ConnectionPool struct {
	mu        sync.Mutex
	idle      map[string][]*pooledConnection
	leased    map[*Client]string
	maxIdle   time.Duration
	newClient func(Config) (*Client, error)
	closed    bool
	done      chan struct{}
}

type pooledConnection struct {
	client   *Client
	lastUsed time.Time
}

// PoolOption configures a ConnectionPool.
type PoolOption func(*ConnectionPool)

// WithClientFactory replaces NewClient as the way new clients are made.
func WithClientFactory(fn func(Config) (*Client, error)) PoolOption {
	return func(p *ConnectionPool) {
		p.newClient = fn
	}
}

// NewConnectionPool creates a new connection pool.
// maxIdle specifies how long idle connections are kept before being closed;
// zero disables the background reaper.
func NewConnectionPool(maxIdle time.Duration, opts ...PoolOption) *ConnectionPool {
	pool := &ConnectionPool{
		idle:      make(map[string][]*pooledConnection),
		leased:    make(map[*Client]string),
		maxIdle:   maxIdle,
		newClient: NewClient,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pool)
	}

	if maxIdle > 0 {
		go pool.cleanupLoop()
	}

	return pool
}

// GetOrCreate leases a healthy idle client for config or dials a new one.
// The caller must call Release when done with it.
func (p *ConnectionPool) GetOrCreate(config Config) (*Client, error) {
	key := p.connectionKey(config)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var stale []*Client
	for {
		list := p.idle[key]
		if len(list) == 0 {
			break
		}
		pc := list[len(list)-1]
		p.idle[key] = list[:len(list)-1]
		if pc.client.IsHealthy() {
			p.leased[pc.client] = key
			p.mu.Unlock()
			closeAll(stale)
			return pc.client, nil
		}
		stale = append(stale, pc.client)
	}
	if len(p.idle[key]) == 0 {
		delete(p.idle, key)
	}
	p.mu.Unlock()
	closeAll(stale)

	client, err := p.newClient(config)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		client.Close()
		return nil, ErrPoolClosed
	}
	p.leased[client] = key
	return client, nil
}

// Release returns a leased client to the pool. Clients whose session has
// failed are closed instead of kept.
func (p *ConnectionPool) Release(client *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.leased[client]
	if !ok {
		return
	}
	delete(p.leased, client)

	if p.closed || !client.IsHealthy() {
		client.Close()
		return
	}
	p.idle[key] = append(p.idle[key], &pooledConnection{client: client, lastUsed: time.Now()})
}

// Close closes idle and leased clients and stops the cleanup goroutine.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.done)

	for key, list := range p.idle {
		for _, pc := range list {
			pc.client.Close()
		}
		delete(p.idle, key)
	}
	for client := range p.leased {
		client.Close()
		delete(p.leased, client)
	}
}

// CloseIdle closes connections that have been idle for longer than maxIdle.
func (p *ConnectionPool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for key, list := range p.idle {
		kept := list[:0]
		for _, pc := range list {
			if now.Sub(pc.lastUsed) > p.maxIdle {
				pc.client.Close()
				continue
			}
			kept = append(kept, pc)
		}
		if len(kept) == 0 {
			delete(p.idle, key)
		} else {
			p.idle[key] = kept
		}
	}
}

// Stats returns current pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := 0
	for _, list := range p.idle {
		idle += len(list)
	}

	return PoolStats{
		Total: idle + len(p.leased),
		InUse: len(p.leased),
		Idle:  idle,
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Total int
	InUse int
	Idle  int
}

func (p *ConnectionPool) connectionKey(config Config) string {
	h := sha256.New()

	h.Write([]byte(config.Host))
	fmt.Fprintf(h, ":%d:", config.Port)
	h.Write([]byte(config.User))

	if config.Password != "" {
		h.Write([]byte(":password:"))
		h.Write([]byte(config.Password))
	}
	if config.PrivateKey != "" {
		h.Write([]byte(":key:"))
		h.Write([]byte(config.PrivateKey))
	}
	if config.KeyPath != "" {
		h.Write([]byte(":keypath:"))
		h.Write([]byte(config.KeyPath))
	}
	fmt.Fprintf(h, ":limits:%d:%d:%d", config.MaxPacketLength, config.MaxWriteChunk, config.MaxReadChunk)

	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (p *ConnectionPool) cleanupLoop() {
	interval := p.maxIdle / 2
	if interval <= 0 {
		interval = p.maxIdle
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.CloseIdle()
		case <-p.done:
			return
		}
	}
}

func closeAll(clients []*Client) {
	for _, c := range clients {
		c.Close()
	}
}
