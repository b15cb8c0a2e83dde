// Package recall holds the message-history domain: conversations,
// messages, embedding chunks and per-source sync state, plus the
// ingestion pipeline and search service operating on them. Every
// entity is owned by exactly one principal and every operation is
// scoped to one.
package recall

import (
	"context"
	"time"
)

// Conversation groups messages pulled from one external thread.
type Conversation struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Source         string    `json:"source"`
	ExternalID     string    `json:"external_id"`
	Title          string    `json:"title"`
	Participants   []string  `json:"participants"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is one raw message as fetched from a source. The (owner,
// external id) pair is the dedup key for idempotent ingestion.
type Message struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	ConversationID string            `json:"conversation_id"`
	ExternalID     string            `json:"external_id"`
	Sender         string            `json:"sender"`
	SentAt         time.Time         `json:"sent_at"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Chunk is the unit of embedding and search. Embedding is nil until
// the pipeline has embedded it; only the pipeline writes it.
type Chunk struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	MessageID  string    `json:"message_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusError   SyncStatus = "error"
)

// SyncState tracks resumable progress for one (owner, source) pair.
// The cursor only moves forward on committed work; a failed run keeps
// the last known-good cursor.
type SyncState struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Source       string     `json:"source"`
	Cursor       string     `json:"cursor"`
	Status       SyncStatus `json:"status"`
	LastError    string     `json:"last_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ChunkContext is the denormalized context a search hit is returned
// with.
type ChunkContext struct {
	ChunkID           string    `json:"chunk_id"`
	MessageID         string    `json:"message_id"`
	ConversationID    string    `json:"conversation_id"`
	ConversationTitle string    `json:"conversation_title"`
	Sender            string    `json:"sender"`
	SentAt            time.Time `json:"sent_at"`
	Content           string    `json:"content"`
}

// SearchRequest carries either a raw query string (embedded by the
// gateway) or a ready query vector.
type SearchRequest struct {
	Query         string    `json:"query,omitempty"`
	QueryVector   []float32 `json:"query_vector,omitempty"`
	Limit         int       `json:"k,omitempty"`
	MinSimilarity float32   `json:"min_similarity,omitempty"`
}

type SearchResult struct {
	ChunkContext
	Similarity float32 `json:"similarity"`
}

// SyncReport summarizes one completed sync run.
type SyncReport struct {
	Source          string `json:"source"`
	MessagesFetched int    `json:"messages_fetched"`
	MessagesCreated int    `json:"messages_created"`
	MessagesSkipped int    `json:"messages_skipped"`
	ChunksEmbedded  int    `json:"chunks_embedded"`
	ChunksPending   int    `json:"chunks_pending"`
	Cursor          string `json:"cursor"`
}

// RawMessage is a message as delivered by a source fetcher, before it
// owns any internal identifiers.
type RawMessage struct {
	ConversationExternalID string
	ConversationTitle      string
	Participants           []string
	ExternalID             string
	Sender                 string
	SentAt                 time.Time
	Body                   string
	Metadata               map[string]string
}

// Page is one fetch result. NextCursor resumes after the page;
// fetching the same cursor twice must yield the same page.
type Page struct {
	Messages   []RawMessage
	NextCursor string
	HasMore    bool
}

// Fetcher pulls raw messages from an external source. Implementations
// live outside the core (platform connectors); the pipeline only
// requires cursor-idempotent reads.
type Fetcher interface {
	Fetch(ctx context.Context, ownerID, source, cursor string) (Page, error)
}

// Locker serializes sync runs per (owner, source) across instances.
// Acquire returns a release func, or ErrSyncAlreadyRunning when the
// lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// NoopLocker relies on the database-level status guard alone.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
