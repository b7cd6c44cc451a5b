package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sweetpotato0/kbbridge/cache"
	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/retrieval"
)

// Lister answers "which files does this dataset hold" with a TTL cache in
// front of the backend, since the existence check runs once per dataset per
// request.
type Lister struct {
	retriever retrieval.Retriever
	store     cache.Store
	ttl       time.Duration
	logger    *slog.Logger
}

// NewLister creates a Lister. store may be nil to disable caching; ttl <= 0
// falls back to the default.
func NewLister(retriever retrieval.Retriever, store cache.Store, ttl time.Duration) *Lister {
	if ttl <= 0 {
		ttl = config.DefaultFileListCacheTTL
	}
	return &Lister{
		retriever: retriever,
		store:     store,
		ttl:       ttl,
		logger:    logging.WithComponent("discovery.lister"),
	}
}

// ListFiles returns the file names in the dataset, serving from cache when
// possible. Cache failures are logged and bypassed.
func (l *Lister) ListFiles(ctx context.Context, datasetID string) ([]string, error) {
	key := "files:" + datasetID
	if l.store != nil {
		if raw, ok, err := l.store.Get(ctx, key); err != nil {
			l.logger.Warn("file list cache read failed", "dataset_id", datasetID, "error", err)
		} else if ok {
			var files []string
			if err := json.Unmarshal(raw, &files); err == nil {
				return files, nil
			}
			l.logger.Warn("discarding corrupt file list cache entry", "dataset_id", datasetID)
		}
	}

	files, err := l.retriever.ListFiles(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	if l.store != nil {
		if raw, err := json.Marshal(files); err == nil {
			if err := l.store.Set(ctx, key, raw, l.ttl); err != nil {
				l.logger.Warn("file list cache write failed", "dataset_id", datasetID, "error", err)
			}
		}
	}
	return files, nil
}

// HasFiles reports whether the dataset holds any files. A backend failure
// returns the error so callers can decide how to degrade.
func (l *Lister) HasFiles(ctx context.Context, datasetID string) (bool, error) {
	files, err := l.ListFiles(ctx, datasetID)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}
