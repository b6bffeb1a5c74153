package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// ChunkRepository reads and writes the document_chunks table.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// Load returns every chunk ordered by id. Chunks without a stored embedding
// come back with a nil Embedding.
func (r *ChunkRepository) Load(ctx context.Context) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, source_id, title, content, agent_type, doc_type, embedding, created_at
		FROM document_chunks
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var emb *pgvector.Vector
		if err := rows.Scan(
			&c.ID,
			&c.SourceID,
			&c.Title,
			&c.Text,
			&c.Metadata.AgentType,
			&c.Metadata.DocType,
			&emb,
			&c.Metadata.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if emb != nil {
			c.Embedding = emb.Slice()
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// Upsert inserts chunks or replaces the rows with the same id.
func (r *ChunkRepository) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		if err := domain.ValidateChunk(c); err != nil {
			return err
		}
		createdAt := c.Metadata.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		var emb *pgvector.Vector
		if len(c.Embedding) > 0 {
			v := pgvector.NewVector(c.Embedding)
			emb = &v
		}

		_, err := r.db.Exec(ctx,
			`INSERT INTO document_chunks
				(id, source_id, title, content, agent_type, doc_type, embedding, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
				source_id = EXCLUDED.source_id,
				title = EXCLUDED.title,
				content = EXCLUDED.content,
				agent_type = EXCLUDED.agent_type,
				doc_type = EXCLUDED.doc_type,
				embedding = EXCLUDED.embedding,
				updated_at = EXCLUDED.updated_at`,
			c.ID,
			c.SourceID,
			c.Title,
			c.Text,
			c.Metadata.AgentType,
			c.Metadata.DocType,
			emb,
			createdAt,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// DeleteExcept removes every chunk whose id is not in ids.
func (r *ChunkRepository) DeleteExcept(ctx context.Context, ids []string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE NOT (id = ANY($1))`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SyncChunks makes the table hold exactly chunks, in one transaction, and
// returns how many stale rows were removed.
func SyncChunks(ctx context.Context, pool *pgxpool.Pool, chunks []domain.Chunk) (int64, error) {
	if len(chunks) == 0 {
		return 0, fmt.Errorf("refusing to sync an empty chunk set")
	}
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}

	var removed int64
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		repo := NewChunkRepositoryWithTx(tx)
		if err := repo.Upsert(ctx, chunks); err != nil {
			return err
		}
		n, err := repo.DeleteExcept(ctx, ids)
		removed = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sync chunks: %w", err)
	}
	return removed, nil
}

// Count returns the number of stored chunks.
func (r *ChunkRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
