package snapshot

import (
	"fmt"

	"tts-batch/internal/batch"
	"tts-batch/internal/config"
)

// Open builds the snapshot backend selected by the server configuration.
// The returned close function releases backend connections.
func Open(cfg *config.ServerConfig) (batch.SnapshotStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendFile:
		return NewJSONFile(cfg.Snapshot.Path), noop, nil
	case config.SnapshotBackendMemory:
		return NewMemory(), noop, nil
	case config.SnapshotBackendMongo:
		store, err := NewMongo(cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot backend: %s", cfg.Snapshot.Backend)
	}
}
