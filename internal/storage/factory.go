package storage

import "fmt"

// NewStore builds the eval-record store for the configured backend. The
// sqlite backend is only available in builds carrying the sqlite tag.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported eval store backend: %s", kind)
	}
}

// CloseIfSupported closes backends that hold external resources; the
// memory store has none and is a no-op.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
