package recall

import "context"

// Repository is the persistence contract for the recall domain. Every
// method takes the owner explicitly and implementations must bake the
// owner into each predicate; no unscoped accessor exists.
type Repository interface {
	// UpsertConversation creates or refreshes the conversation keyed
	// by (owner, external id) and returns its id.
	UpsertConversation(ctx context.Context, conversation *Conversation) (string, error)

	// GetMessageByExternalID returns nil when no message matches the
	// dedup key.
	GetMessageByExternalID(ctx context.Context, ownerID, externalID string) (*Message, error)

	// CreateMessage inserts a message; a dedup-key conflict returns
	// ErrDuplicateMessage.
	CreateMessage(ctx context.Context, message *Message) error

	// CreateChunks inserts the message's chunks. Embeddings are not
	// written here; the vector index is their sole writer.
	CreateChunks(ctx context.Context, chunks []Chunk) error

	// GetChunkContext resolves chunk ids to their message and
	// conversation context, owner-scoped. Unknown ids are omitted.
	GetChunkContext(ctx context.Context, ownerID string, chunkIDs []string) (map[string]ChunkContext, error)

	// ListChunksPendingEmbedding returns up to limit chunks whose
	// embedding was never written, oldest first. Sync runs sweep
	// these before fetching new pages.
	ListChunksPendingEmbedding(ctx context.Context, ownerID string, limit int) ([]Chunk, error)

	// DeleteConversation removes the conversation and, by cascade,
	// its messages and chunks. Owner-scoped.
	DeleteConversation(ctx context.Context, ownerID, conversationID string) error

	// Sync state transitions. BeginSync performs the conditional
	// idle/error -> running transition and returns
	// ErrSyncAlreadyRunning when the row is already running.
	GetSyncState(ctx context.Context, ownerID, source string) (*SyncState, error)
	BeginSync(ctx context.Context, ownerID, source string) (*SyncState, error)

	// AdvanceSyncCursor commits cursor progress mid-run after a fully
	// ingested page; status stays running.
	AdvanceSyncCursor(ctx context.Context, ownerID, source, cursor string) error

	// CompleteSync atomically sets cursor, last_synced_at and idle.
	CompleteSync(ctx context.Context, ownerID, source, cursor string) error

	// FailSync records error detail without touching the cursor.
	FailSync(ctx context.Context, ownerID, source, detail string) error
}
