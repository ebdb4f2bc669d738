package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
)

// Payload is the metadata stored alongside each vector.
type Payload struct {
	DocID      string                 `json:"doc_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Category   string                 `json:"category,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Record is one vector plus payload keyed by chunk id.
type Record struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// SearchResult is one similarity hit, score in [0,1] (cosine similarity).
type SearchResult struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// Store keeps knowledge chunk vectors in Postgres with pgvector.
// Safe for concurrent use.
type Store struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// New creates a vector store over an existing database connection.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		log: logrus.WithField("component", "vectorstore"),
	}
}

// Upsert inserts or replaces a chunk vector and its payload.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	metadataJSON, err := json.Marshal(rec.Payload.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk metadata: %w", err)
	}

	query := `
		INSERT INTO knowledge_chunks (id, doc_id, chunk_index, content, category, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			category = EXCLUDED.category,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Payload.DocID,
		rec.Payload.ChunkIndex,
		rec.Payload.Content,
		nullable(rec.Payload.Category),
		metadataJSON,
		pgvector.NewVector(rec.Vector),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", rec.ID, err)
	}

	return nil
}

// Search returns up to k chunks whose cosine similarity to the query vector is
// at least minScore, best first. An empty category means no filter.
func (s *Store) Search(ctx context.Context, vector []float32, k int, minScore float64, category string) ([]SearchResult, error) {
	query := `
		SELECT id, doc_id, chunk_index, content, COALESCE(category, '') AS category, metadata,
		       1 - (embedding <=> $1) AS score
		FROM knowledge_chunks
		WHERE ($2 = '' OR category = $2)
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), category, minScore, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r            SearchResult
			metadataJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Payload.DocID, &r.Payload.ChunkIndex,
			&r.Payload.Content, &r.Payload.Category, &metadataJSON, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &r.Payload.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return results, nil
}

// DeleteDoc removes every chunk belonging to a document. Returns the number
// of chunks removed.
func (s *Store) DeleteDoc(ctx context.Context, docID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE doc_id = $1`, docID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	n, _ := res.RowsAffected()
	s.log.WithFields(logrus.Fields{"doc_id": docID, "chunks": n}).Info("document deleted")
	return n, nil
}

// Count returns the total number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM knowledge_chunks`); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
