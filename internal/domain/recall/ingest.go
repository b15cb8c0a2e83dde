package recall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/domain/embedding"
	"github.com/recallhq/recall-server/internal/domain/identity"
	"github.com/recallhq/recall-server/internal/domain/index"
	"github.com/recallhq/recall-server/internal/metrics"
)

// RunSync drives one full sync for (owner, source): pages are fetched
// from the cursor recorded in the sync state, every message runs
// through the ingestion pipeline, and the cursor is committed after
// each fully ingested page. A second concurrent run for the same pair
// is rejected with ErrSyncAlreadyRunning.
func (s *Service) RunSync(ctx context.Context, owner identity.Principal, source string) (*SyncReport, error) {
	if !owner.Valid() {
		return nil, index.ErrInvalidPrincipal
	}
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}

	release, err := s.locker.Acquire(ctx, "sync:"+owner.ID+":"+source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyncAlreadyRunning, err)
	}
	defer release()

	state, err := s.repo.BeginSync(ctx, owner.ID, source)
	if err != nil {
		return nil, err
	}

	logger := log.Ctx(ctx).With().
		Str("owner_id", owner.ID).
		Str("source", source).
		Str("cursor", state.Cursor).
		Logger()
	logger.Info().Msg("Sync started")

	report := &SyncReport{Source: source, Cursor: state.Cursor}
	start := time.Now()

	// Chunks left without a vector by an earlier degraded run get
	// another chance before new pages are fetched.
	runErr := s.embedPendingChunks(ctx, owner, report)
	if runErr == nil {
		runErr = s.runPages(ctx, owner, source, state.Cursor, report)
	}
	if err := runErr; err != nil {
		// The failure transition must go through even when the run
		// was cancelled, so it uses a detached context.
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if failErr := s.repo.FailSync(failCtx, owner.ID, source, err.Error()); failErr != nil {
			logger.Error().Err(failErr).Msg("Failed to record sync error state")
		}
		metrics.RecordSyncRun(source, "error", time.Since(start).Seconds())
		logger.Error().Err(err).Msg("Sync failed")
		return nil, err
	}

	if err := s.repo.CompleteSync(ctx, owner.ID, source, report.Cursor); err != nil {
		return nil, fmt.Errorf("complete sync: %w", err)
	}

	metrics.RecordSyncRun(source, "success", time.Since(start).Seconds())
	logger.Info().
		Int("fetched", report.MessagesFetched).
		Int("created", report.MessagesCreated).
		Int("skipped", report.MessagesSkipped).
		Int("chunks_embedded", report.ChunksEmbedded).
		Int("chunks_pending", report.ChunksPending).
		Str("next_cursor", report.Cursor).
		Msg("Sync completed")

	return report, nil
}

// pendingEmbedLimit bounds how many stranded chunks one run retries.
const pendingEmbedLimit = 256

// embedPendingChunks retries chunks persisted without a vector. The
// provider being down again is not fatal; the chunks simply stay
// pending for the next run.
func (s *Service) embedPendingChunks(ctx context.Context, owner identity.Principal, report *SyncReport) error {
	pending, err := s.repo.ListChunksPendingEmbedding(ctx, owner.ID, pendingEmbedLimit)
	if err != nil {
		return fmt.Errorf("list pending chunks: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i := range pending {
		texts[i] = pending[i].Content
	}

	start := time.Now()
	results, err := s.gateway.EmbedBatch(ctx, texts)
	metrics.RecordEmbedding(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, embedding.ErrProviderUnavailable) {
			log.Ctx(ctx).Warn().
				Err(err).
				Int("pending", len(pending)).
				Msg("Embedding provider unavailable, pending chunks deferred again")
			report.ChunksPending += len(pending)
			return nil
		}
		return fmt.Errorf("embed pending chunks: %w", err)
	}

	for i := range pending {
		if results[i].Err != nil || results[i].Vector == nil {
			report.ChunksPending++
			continue
		}
		if err := s.idx.Upsert(ctx, owner, pending[i].ID, results[i].Vector); err != nil {
			if errors.Is(err, index.ErrDimensionMismatch) {
				log.Ctx(ctx).Error().
					Err(err).
					Str("chunk_id", pending[i].ID).
					Msg("Dimension mismatch, chunk skipped")
				report.ChunksPending++
				continue
			}
			return fmt.Errorf("index pending chunk %s: %w", pending[i].ID, err)
		}
		report.ChunksEmbedded++
	}

	return nil
}

func (s *Service) runPages(ctx context.Context, owner identity.Principal, source, cursor string, report *SyncReport) error {
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		page, err := s.fetcher.Fetch(fetchCtx, owner.ID, source, cursor)
		cancel()
		if err != nil {
			return fmt.Errorf("fetch %s page at cursor %q: %w", source, cursor, err)
		}

		report.MessagesFetched += len(page.Messages)

		for i := range page.Messages {
			// Cooperative cancellation checkpoint: only between
			// message units, never mid-unit.
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("sync cancelled: %w", err)
			}
			if err := s.ingestMessage(ctx, owner, source, &page.Messages[i], report); err != nil {
				return err
			}
		}

		cursor = page.NextCursor
		report.Cursor = cursor
		if err := s.repo.AdvanceSyncCursor(ctx, owner.ID, source, cursor); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}

		if !page.HasMore {
			return nil
		}
	}
}

// ingestMessage is the per-message unit of work: dedup, chunk, embed,
// persist, index. Replays are absorbed by the (owner, external id)
// dedup key; embedding failures degrade to chunks persisted without a
// vector rather than failing the run.
func (s *Service) ingestMessage(ctx context.Context, owner identity.Principal, source string, raw *RawMessage, report *SyncReport) error {
	logger := log.Ctx(ctx)

	if raw.ExternalID != "" {
		existing, err := s.repo.GetMessageByExternalID(ctx, owner.ID, raw.ExternalID)
		if err != nil {
			return fmt.Errorf("dedup lookup: %w", err)
		}
		if existing != nil {
			report.MessagesSkipped++
			return nil
		}
	}

	pieces := s.chunks.Split(raw.Body)

	var results []embedding.Result
	if len(pieces) > 0 {
		start := time.Now()
		embedded, err := s.gateway.EmbedBatch(ctx, pieces)
		metrics.RecordEmbedding(time.Since(start).Seconds())
		if err != nil {
			if !errors.Is(err, embedding.ErrProviderUnavailable) {
				return fmt.Errorf("embed message %q: %w", raw.ExternalID, err)
			}
			// Persist the message anyway; its chunks stay pending and
			// a later run can embed them.
			logger.Warn().
				Err(err).
				Str("external_id", raw.ExternalID).
				Msg("Embedding provider unavailable, persisting chunks without vectors")
			embedded = make([]embedding.Result, len(pieces))
			for i := range embedded {
				embedded[i].Err = err
			}
		}
		results = embedded
	}

	conversationID, err := s.repo.UpsertConversation(ctx, &Conversation{
		OwnerID:        owner.ID,
		Source:         source,
		ExternalID:     raw.ConversationExternalID,
		Title:          raw.ConversationTitle,
		Participants:   raw.Participants,
		LastActivityAt: raw.SentAt,
	})
	if err != nil {
		return fmt.Errorf("upsert conversation %q: %w", raw.ConversationExternalID, err)
	}

	message := &Message{
		ID:             uuid.NewString(),
		OwnerID:        owner.ID,
		ConversationID: conversationID,
		ExternalID:     raw.ExternalID,
		Sender:         raw.Sender,
		SentAt:         raw.SentAt,
		Body:           raw.Body,
		Metadata:       raw.Metadata,
	}
	if err := s.repo.CreateMessage(ctx, message); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			// Raced with a concurrent writer or a replayed page.
			report.MessagesSkipped++
			return nil
		}
		return fmt.Errorf("create message %q: %w", raw.ExternalID, err)
	}

	chunks := make([]Chunk, len(pieces))
	for i := range pieces {
		chunks[i] = Chunk{
			ID:         uuid.NewString(),
			OwnerID:    owner.ID,
			MessageID:  message.ID,
			ChunkIndex: i,
			Content:    pieces[i],
		}
	}
	if len(chunks) > 0 {
		if err := s.repo.CreateChunks(ctx, chunks); err != nil {
			return fmt.Errorf("create chunks for message %q: %w", raw.ExternalID, err)
		}
	}

	for i := range chunks {
		if results[i].Err != nil || results[i].Vector == nil {
			report.ChunksPending++
			continue
		}
		if err := s.idx.Upsert(ctx, owner, chunks[i].ID, results[i].Vector); err != nil {
			if errors.Is(err, index.ErrDimensionMismatch) {
				logger.Error().
					Err(err).
					Str("chunk_id", chunks[i].ID).
					Msg("Dimension mismatch, chunk skipped")
				report.ChunksPending++
				continue
			}
			return fmt.Errorf("index chunk %s: %w", chunks[i].ID, err)
		}
		report.ChunksEmbedded++
	}

	metrics.RecordIngestedMessage(source)
	report.MessagesCreated++
	return nil
}
