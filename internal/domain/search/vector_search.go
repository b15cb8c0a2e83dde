package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recallhq/recall-server/internal/domain/identity"
	"github.com/recallhq/recall-server/internal/domain/index"
)

// PgVectorIndex stores chunk embeddings in the chunks table and searches
// them with pgvector cosine distance. Every statement carries the owner
// predicate so one tenant can never touch another tenant's rows.
type PgVectorIndex struct {
	db        *pgxpool.Pool
	dimension int
}

var _ index.Index = (*PgVectorIndex)(nil)

func NewPgVectorIndex(db *pgxpool.Pool, dimension int) *PgVectorIndex {
	return &PgVectorIndex{db: db, dimension: dimension}
}

// Helper function to convert []float32 to pgvector format string
func embeddingToString(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	parts := make([]string, len(embedding))
	for i, val := range embedding {
		parts[i] = fmt.Sprintf("%f", val)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (x *PgVectorIndex) Upsert(ctx context.Context, owner identity.Principal, chunkID string, vector []float32) error {
	if !owner.Valid() {
		return index.ErrInvalidPrincipal
	}
	if len(vector) != x.dimension {
		return fmt.Errorf("%w: got %d, want %d", index.ErrDimensionMismatch, len(vector), x.dimension)
	}

	query := `
		UPDATE chunks
		SET embedding = $1::vector
		WHERE id = $2 AND owner_id = $3
	`

	tag, err := x.db.Exec(ctx, query, embeddingToString(vector), chunkID, owner.ID)
	if err != nil {
		return fmt.Errorf("upsert chunk embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert chunk embedding: chunk %s not found for owner", chunkID)
	}
	return nil
}

func (x *PgVectorIndex) Remove(ctx context.Context, owner identity.Principal, chunkID string) error {
	if !owner.Valid() {
		return index.ErrInvalidPrincipal
	}

	query := `
		UPDATE chunks
		SET embedding = NULL
		WHERE id = $1 AND owner_id = $2
	`

	// Removing an absent chunk is a no-op.
	if _, err := x.db.Exec(ctx, query, chunkID, owner.ID); err != nil {
		return fmt.Errorf("remove chunk embedding: %w", err)
	}
	return nil
}

func (x *PgVectorIndex) Search(
	ctx context.Context,
	owner identity.Principal,
	queryVector []float32,
	k int,
	minSimilarity float32,
) ([]index.Hit, error) {
	if !owner.Valid() {
		return nil, index.ErrInvalidPrincipal
	}
	if len(queryVector) != x.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", index.ErrDimensionMismatch, len(queryVector), x.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, 1 - (embedding <=> $1::vector) AS similarity
		FROM chunks
		WHERE owner_id = $2
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY similarity DESC, id ASC
		LIMIT $4
	`

	rows, err := x.db.Query(ctx, query, embeddingToString(queryVector), owner.ID, minSimilarity, k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var hits []index.Hit
	for rows.Next() {
		var hit index.Hit
		if err := rows.Scan(&hit.ChunkID, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	return hits, nil
}
