package recall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/domain/embedding"
	"github.com/recallhq/recall-server/internal/domain/identity"
	"github.com/recallhq/recall-server/internal/domain/index"
	"github.com/recallhq/recall-server/internal/metrics"
)

// ServiceConfig carries the tunables the service reads at runtime.
type ServiceConfig struct {
	FetchTimeout         time.Duration
	DefaultLimit         int
	DefaultMinSimilarity float32
}

// Service exposes the core contracts: RunSync, Search and
// GetSyncStatus. All three take the resolved principal explicitly.
type Service struct {
	repo    Repository
	fetcher Fetcher
	chunks  Splitter
	gateway *embedding.Gateway
	idx     index.Index
	locker  Locker
	cfg     ServiceConfig
}

// Splitter is what the pipeline needs from the chunker.
type Splitter interface {
	Split(text string) []string
}

func NewService(repo Repository, fetcher Fetcher, chunks Splitter, gateway *embedding.Gateway, idx index.Index, locker Locker, cfg ServiceConfig) *Service {
	if locker == nil {
		locker = NoopLocker{}
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = 20
	}
	return &Service{
		repo:    repo,
		fetcher: fetcher,
		chunks:  chunks,
		gateway: gateway,
		idx:     idx,
		locker:  locker,
		cfg:     cfg,
	}
}

// Search embeds the query (unless a vector was supplied) and runs an
// owner-scoped similarity query, hydrating hits with their message and
// conversation context.
func (s *Service) Search(ctx context.Context, owner identity.Principal, req SearchRequest) ([]SearchResult, error) {
	if !owner.Valid() {
		return nil, index.ErrInvalidPrincipal
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	minSimilarity := req.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = s.cfg.DefaultMinSimilarity
	}

	vector := req.QueryVector
	if vector == nil {
		if strings.TrimSpace(req.Query) == "" {
			return nil, fmt.Errorf("query or query_vector is required")
		}
		start := time.Now()
		embedded, err := s.gateway.EmbedSingle(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		metrics.RecordEmbedding(time.Since(start).Seconds())
		vector = embedded
	}

	start := time.Now()
	hits, err := s.idx.Search(ctx, owner, vector, limit, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	metrics.RecordVectorSearch(time.Since(start).Seconds())

	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ChunkID
	}

	contexts, err := s.repo.GetChunkContext(ctx, owner.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve chunk context: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		chunkCtx, ok := contexts[hit.ChunkID]
		if !ok {
			// Index entry without a backing row; ingestion removes
			// these lazily on the next pass.
			continue
		}
		results = append(results, SearchResult{ChunkContext: chunkCtx, Similarity: hit.Similarity})
	}

	log.Ctx(ctx).Debug().
		Str("owner_id", owner.ID).
		Int("hits", len(results)).
		Float32("min_similarity", minSimilarity).
		Msg("Search completed")

	return results, nil
}

// GetSyncStatus returns the SyncState snapshot for (owner, source), or
// ErrNotFound when the pair has never synced.
func (s *Service) GetSyncStatus(ctx context.Context, owner identity.Principal, source string) (*SyncState, error) {
	if !owner.Valid() {
		return nil, index.ErrInvalidPrincipal
	}
	state, err := s.repo.GetSyncState(ctx, owner.ID, source)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNotFound
	}
	return state, nil
}
