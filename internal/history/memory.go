package history

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process [Store] backed by an unbounded expirable LRU.
// Every save renews the entry's TTL and expired entries are purged in the
// background. Entries are serialised on save so callers never share slices
// with the store.
type Memory struct {
	mu      sync.RWMutex
	entries *expirable.LRU[string, []byte]
	ttl     time.Duration
	closed  bool
}

// MemoryOption configures a [Memory] store.
type MemoryOption func(*Memory)

// WithMemoryTTL overrides the default [TTL].
func WithMemoryTTL(d time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = d }
}

// NewMemory returns an empty in-process store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{ttl: TTL}
	for _, o := range opts {
		o(m)
	}
	m.entries = expirable.NewLRU[string, []byte](0, nil, m.ttl)
	return m
}

// Load implements [Store].
func (m *Memory) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.entries.Get(Key(sessionID))
	if !ok {
		return []llm.Message{}, nil
	}
	return decode(data)
}

// Save implements [Store].
func (m *Memory) Save(_ context.Context, sessionID string, msgs []llm.Message) error {
	data, err := encode(msgs)
	if err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	m.entries.Add(Key(sessionID), data)
	return nil
}

// Len returns the number of entries held, including expired entries the
// background purge has not reached yet.
func (m *Memory) Len() int {
	return m.entries.Len()
}

// Ping implements [Store].
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements [Store].
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries.Purge()
	return nil
}
