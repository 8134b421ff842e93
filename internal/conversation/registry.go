package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MrWong99/spatialvoice/internal/history"
	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

// Registry defaults.
const (
	DefaultMaxSessions = 1024
	DefaultIdleTTL     = 24 * time.Hour
)

// Registry owns one [Session] per session id. It is bounded: the least
// recently used session is evicted when MaxSessions is exceeded, and sessions
// untouched for the idle TTL expire. An evicted session keeps its persisted
// history; the next Get builds a fresh actor that reloads it.
//
// A session with a turn in flight through [Registry.Chat] or [Registry.Reset]
// is pinned: eviction drops it from the LRU but Get keeps returning the same
// instance until the turn ends, so one session id never has two actors.
type Registry struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
	active   map[string]*pin

	provider llm.Provider
	store    history.Store
	opts     []SessionOption
	log      *slog.Logger
}

// RegistryOption configures a [Registry].
type RegistryOption func(*registryConfig)

type registryConfig struct {
	maxSessions int
	idleTTL     time.Duration
	sessionOpts []SessionOption
	log         *slog.Logger
}

// WithMaxSessions bounds the number of live sessions.
func WithMaxSessions(n int) RegistryOption {
	return func(c *registryConfig) { c.maxSessions = n }
}

// WithIdleTTL sets how long an unused session stays in the registry.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(c *registryConfig) { c.idleTTL = d }
}

// WithSessionOptions applies opts to every session the registry creates.
func WithSessionOptions(opts ...SessionOption) RegistryOption {
	return func(c *registryConfig) { c.sessionOpts = append(c.sessionOpts, opts...) }
}

// WithRegistryLogger sets the logger used by the registry and its sessions.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(c *registryConfig) { c.log = l }
}

// NewRegistry creates an empty registry whose sessions talk to provider and
// persist to store.
func NewRegistry(provider llm.Provider, store history.Store, opts ...RegistryOption) *Registry {
	cfg := registryConfig{
		maxSessions: DefaultMaxSessions,
		idleTTL:     DefaultIdleTTL,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	r := &Registry{
		active:   make(map[string]*pin),
		provider: provider,
		store:    store,
		opts:     append(cfg.sessionOpts, WithLogger(cfg.log)),
		log:      cfg.log,
	}
	r.sessions = expirable.NewLRU(cfg.maxSessions, func(id string, _ *Session) {
		r.log.Debug("conversation: session evicted", "session_id", id)
	}, cfg.idleTTL)
	return r
}

type pin struct {
	s    *Session
	refs int
}

// Get returns the session for id, creating it on first use. Concurrent
// callers for an unseen id receive the same instance. Every call refreshes
// the session's idle deadline.
func (r *Registry) Get(id string) *Session {
	s := r.acquire(id)
	r.release(id)
	return s
}

// Chat runs one turn on the session for id. The session stays pinned until
// the result has been delivered.
func (r *Registry) Chat(ctx context.Context, id, text string) (<-chan llm.Event, <-chan Result) {
	s := r.acquire(id)
	return s.chat(ctx, text, func() { r.release(id) })
}

// Reset clears the history of the session for id.
func (r *Registry) Reset(ctx context.Context, id string) {
	s := r.acquire(id)
	defer r.release(id)
	s.Reset(ctx)
}

func (r *Registry) acquire(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.active[id]; ok {
		p.refs++
		r.sessions.Add(id, p.s)
		return p.s
	}
	s, ok := r.sessions.Get(id)
	if !ok {
		s = NewSession(id, r.provider, r.store, r.opts...)
	}
	r.active[id] = &pin{s: s, refs: 1}
	r.sessions.Add(id, s)
	return s
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.active[id]
	if !ok {
		return
	}
	if p.refs--; p.refs == 0 {
		delete(r.active, id)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}
