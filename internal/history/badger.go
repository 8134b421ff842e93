package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

var _ Store = (*Badger)(nil)

// Badger is a [Store] backed by an embedded badger database. Expiry is
// delegated to badger's per-entry TTL.
type Badger struct {
	db  *badger.DB
	ttl time.Duration
}

// BadgerOption configures [OpenBadger].
type BadgerOption func(*badgerConfig)

type badgerConfig struct {
	inMemory bool
	ttl      time.Duration
}

// WithInMemory keeps all data in RAM. The path argument of [OpenBadger] is
// ignored. Used in tests.
func WithInMemory() BadgerOption {
	return func(c *badgerConfig) { c.inMemory = true }
}

// WithBadgerTTL overrides the default [TTL].
func WithBadgerTTL(d time.Duration) BadgerOption {
	return func(c *badgerConfig) { c.ttl = d }
}

// OpenBadger opens (or creates) a badger database in dir.
func OpenBadger(dir string, opts ...BadgerOption) (*Badger, error) {
	cfg := badgerConfig{ttl: TTL}
	for _, o := range opts {
		o(&cfg)
	}

	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if cfg.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else if dir == "" {
		return nil, fmt.Errorf("history: badger: directory must not be empty")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("history: badger: open: %w", err)
	}
	slog.Debug("history: badger store opened", "dir", dir, "in_memory", cfg.inMemory)
	return &Badger{db: db, ttl: cfg.ttl}, nil
}

// Load implements [Store].
func (b *Badger) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	if b.db.IsClosed() {
		return nil, ErrClosed
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(sessionID)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: badger: load %q: %w", sessionID, err)
	}
	return decode(data)
}

// Save implements [Store].
func (b *Badger) Save(_ context.Context, sessionID string, msgs []llm.Message) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	data, err := encode(msgs)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(Key(sessionID)), data).WithTTL(b.ttl))
	})
	if err != nil {
		return fmt.Errorf("history: badger: save %q: %w", sessionID, err)
	}
	return nil
}

// Ping implements [Store].
func (b *Badger) Ping(context.Context) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close implements [Store].
func (b *Badger) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("history: badger: close: %w", err)
	}
	return nil
}
