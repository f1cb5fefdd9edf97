// Package replaystore persists ReplaySubject's replay buffer across
// process restarts, backing the DurableReplaySubject in internal/subject.
// Store is dispatched to a concrete backend (memory, Redis, SQL) by
// driver name, with RedisStore and SQLStore wrapping go-redis and
// database/sql respectively.
package replaystore

import (
	"context"
	"fmt"
	"time"
)

// Entry is one persisted replay value, keyed by its publish sequence and
// timestamp so a Store can trim by both bufferSize and windowTime without
// decoding Value.
type Entry struct {
	Seq       int64
	Value     []byte
	Timestamp time.Time
}

// Store persists and replays one subject's value history, identified by
// subjectID. Implementations must return entries from Replay in FIFO
// (oldest-first) order.
type Store interface {
	// Append records one value for subjectID and returns its assigned
	// sequence number.
	Append(ctx context.Context, subjectID string, value []byte, ts time.Time) (int64, error)
	// Replay returns the retained entries for subjectID, oldest first,
	// trimmed to at most bufferSize entries (0 means unbounded) whose age
	// relative to now is less than windowTime (0 means unbounded).
	Replay(ctx context.Context, subjectID string, bufferSize int, windowTime time.Duration, now time.Time) ([]Entry, error)
	// Close releases any resources (connections, files) the store holds.
	Close() error
}

// Config selects and configures a Store backend by driver name.
type Config struct {
	Driver string // "memory", "redis", "postgres", "sqlite"
	DSN    string // connection string / file path, backend-dependent
}

// New constructs a Store for the given config.
func New(config Config) (Store, error) {
	switch config.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(config.DSN)
	case "postgres", "postgresql":
		return NewSQLStore("postgres", config.DSN)
	case "sqlite", "sqlite3":
		return NewSQLStore("sqlite3", config.DSN)
	default:
		return nil, fmt.Errorf("replaystore: unsupported driver %q", config.Driver)
	}
}
