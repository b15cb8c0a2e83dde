// Package index stores chunk embeddings partitioned by owner and
// answers thresholded top-k cosine-similarity queries. Tenant scoping
// is enforced by the index itself: every operation requires a resolved
// principal and touches only that principal's partition.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/recallhq/recall-server/internal/domain/identity"
)

var (
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
	ErrInvalidPrincipal  = errors.New("index: invalid principal")
)

// Hit is one search result. Similarity is cosine similarity
// (1 - cosine distance).
type Hit struct {
	ChunkID    string
	Similarity float32
}

// Index is the tenant-scoped vector index contract. Implementations
// must make cross-tenant reads structurally impossible, not merely
// filtered.
type Index interface {
	// Upsert replaces any existing vector for the chunk id.
	Upsert(ctx context.Context, owner identity.Principal, chunkID string, vector []float32) error

	// Remove is idempotent; removing an absent id is a no-op.
	Remove(ctx context.Context, owner identity.Principal, chunkID string) error

	// Search returns at most k hits with similarity >= threshold,
	// ordered by similarity descending, ties broken by chunk id
	// ascending.
	Search(ctx context.Context, owner identity.Principal, query []float32, k int, threshold float32) ([]Hit, error)
}

func checkDimension(vector []float32, want int) error {
	if len(vector) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), want)
	}
	return nil
}
