// Package pgvector implements retrieval.Retriever on PostgreSQL. Segments
// live in a single table with a tsvector column; semantic and hybrid methods
// degrade to full-text ranking since no embedding pipeline is attached.
// Registered under the "pgvector" backend tag.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/kbbridge/config"
	kberrors "github.com/sweetpotato0/kbbridge/errors"
	"github.com/sweetpotato0/kbbridge/retrieval"
)

const defaultTableName = "kb_segments"

func init() {
	retrieval.Register("pgvector", func(creds config.Credentials) (retrieval.Retriever, error) {
		return New(&Config{DSN: creds.PostgresDSN})
	})
}

// Config holds PostgreSQL backend configuration.
type Config struct {
	DSN       string
	TableName string // default: kb_segments
}

// Store implements retrieval.Retriever backed by PostgreSQL full-text search.
type Store struct {
	db        *sql.DB
	tableName string
}

// New opens the database, verifies connectivity and ensures the segment
// table exists.
func New(cfg *Config) (*Store, error) {
	if cfg == nil || strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres DSN cannot be empty: %w", kberrors.ErrInvalidCredentials)
	}
	tableName := cfg.TableName
	if tableName == "" {
		tableName = defaultTableName
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &Store{db: db, tableName: tableName}
	if err := store.setup(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to setup segment table: %w", err)
	}
	return store, nil
}

func (s *Store) setup(ctx context.Context) error {
	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		dataset_id VARCHAR(255) NOT NULL,
		document_name VARCHAR(1024) NOT NULL,
		content TEXT NOT NULL,
		content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName)
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indexSQL := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s_tsv_idx ON %s USING GIN (content_tsv)",
		s.tableName, s.tableName)
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// AddSegment inserts a segment row. Intended for ingestion tooling and tests.
func (s *Store) AddSegment(ctx context.Context, datasetID, documentName, content string) error {
	if datasetID == "" {
		return fmt.Errorf("dataset ID cannot be empty: %w", kberrors.ErrInvalidInput)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (dataset_id, document_name, content) VALUES ($1, $2, $3)",
		s.tableName)
	if _, err := s.db.ExecContext(ctx, query, datasetID, documentName, content); err != nil {
		return fmt.Errorf("failed to add segment: %w", err)
	}
	return nil
}

// Retrieve implements retrieval.Retriever. All search methods rank with
// ts_rank over websearch_to_tsquery; keyword_search additionally falls back
// to ILIKE when the query parses to an empty tsquery.
func (s *Store) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query cannot be empty: %w", kberrors.ErrInvalidInput)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = config.DefaultTopK
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `
	SELECT document_name, content, ts_rank(content_tsv, websearch_to_tsquery('english', $1)) AS rank
	FROM %s
	WHERE dataset_id = $2
	  AND (content_tsv @@ websearch_to_tsquery('english', $1) OR content ILIKE '%%' || $1 || '%%')`,
		s.tableName)
	args := []any{req.Query, req.DatasetID}
	if req.Filter != nil && req.Filter.DocumentName != "" {
		sb.WriteString(" AND document_name = $3")
		args = append(args, req.Filter.DocumentName)
	}
	fmt.Fprintf(&sb, " ORDER BY rank DESC LIMIT %d", topK)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search segments: %w", err)
	}
	defer rows.Close()

	var segments []retrieval.ChunkHit
	for rows.Next() {
		var hit retrieval.ChunkHit
		if err := rows.Scan(&hit.DocumentName, &hit.Content, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		if req.ScoreThreshold > 0 && hit.Score < req.ScoreThreshold {
			continue
		}
		segments = append(segments, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}
	return &retrieval.Response{Segments: segments}, nil
}

// ListFiles implements retrieval.Retriever.
func (s *Store) ListFiles(ctx context.Context, datasetID string) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT DISTINCT document_name FROM %s WHERE dataset_id = $1 ORDER BY document_name",
		s.tableName)
	rows, err := s.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan file name: %w", err)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file names: %w", err)
	}
	return names, nil
}

// BuildMetadataFilter implements retrieval.Retriever.
func (s *Store) BuildMetadataFilter(documentName string) *retrieval.MetadataFilter {
	if strings.TrimSpace(documentName) == "" {
		return nil
	}
	return &retrieval.MetadataFilter{DocumentName: documentName}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
