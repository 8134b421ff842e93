// Package history persists conversation histories between requests.
//
// A history is the ordered list of user and assistant messages of one
// session, stored under [Key] as a JSON array and expiring after [TTL] of
// inactivity. Three backends are provided: [Memory] (process-local),
// [Badger] (embedded key-value store) and [Postgres].
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

// TTL is how long a saved history survives without being written again.
const TTL = 24 * time.Hour

// KeyPrefix is prepended to the session id to form the storage key.
const KeyPrefix = "spatial:conversation:"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history: store closed")

// Store is the persistence boundary for conversation histories.
//
// Load returns an empty slice (and nil error) when nothing is stored for the
// session or the stored value has expired. Implementations must be safe for
// concurrent use.
type Store interface {
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)
	Save(ctx context.Context, sessionID string, msgs []llm.Message) error
	Ping(ctx context.Context) error
	Close() error
}

// Key returns the storage key for sessionID.
func Key(sessionID string) string {
	return KeyPrefix + sessionID
}

func encode(msgs []llm.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []llm.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("history: encode: %w", err)
	}
	return data, nil
}

func decode(data []byte) ([]llm.Message, error) {
	var msgs []llm.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}
	if msgs == nil {
		msgs = []llm.Message{}
	}
	return msgs, nil
}
