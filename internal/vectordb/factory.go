package vectordb

import (
	"fmt"
	"log/slog"

	"github.com/54b3r/ragindex/internal/config"
)

// New constructs the backend selected by cfg.Backend. The returned store is
// not yet connected; callers must call Connect.
func New(cfg config.VectorDBConfig, log *slog.Logger) (Store, error) {
	distance, err := ParseDistance(cfg.Distance)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	opts := []Option{
		WithDistance(distance),
		WithIndexThreshold(cfg.IndexThreshold),
		WithLogger(log.With(slog.String("vectordb", cfg.Backend))),
	}

	switch cfg.Backend {
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.TLS,
		}, opts...), nil
	case "pgvector":
		if cfg.PGVector.DSN == "" {
			return nil, fmt.Errorf("vectordb: pgvector backend requires a DSN")
		}
		return NewPGVectorStore(PGVectorConfig{
			DSN:      cfg.PGVector.DSN,
			MaxConns: cfg.PGVector.MaxConns,
		}, opts...), nil
	case "badger":
		return NewBadgerStore(cfg.Badger.Path, cfg.Badger.InMemory, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q (valid: qdrant, pgvector, badger)", ErrUnknownBackend, cfg.Backend)
	}
}
