package recallrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/recallhq/recall-server/internal/domain/recall"
	"github.com/recallhq/recall-server/internal/infrastructure/database/dbschema"
)

func (r *Repository) CreateChunks(ctx context.Context, chunks []recall.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]map[string]any, 0, len(chunks))
	for i := range chunks {
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = now
		}
		chunks[i].UpdatedAt = now

		schema := dbschema.NewSchemaChunk(&chunks[i])
		rows = append(rows, map[string]any{
			"id":          schema.ID,
			"owner_id":    schema.OwnerID,
			"message_id":  schema.MessageID,
			"chunk_index": schema.ChunkIndex,
			"content":     schema.Content,
			"created_at":  schema.CreatedAt,
			"updated_at":  schema.UpdatedAt,
		})
	}

	if err := r.db.WithContext(ctx).
		Table("chunks").
		Create(rows).Error; err != nil {
		return fmt.Errorf("create chunks: %w", err)
	}
	return nil
}

func (r *Repository) ListChunksPendingEmbedding(ctx context.Context, ownerID string, limit int) ([]recall.Chunk, error) {
	var rows []dbschema.Chunk
	if err := r.db.WithContext(ctx).
		Table("chunks").
		Select("id, owner_id, message_id, chunk_index, content, created_at, updated_at").
		Where("owner_id = ? AND embedding IS NULL", ownerID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pending chunks: %w", err)
	}

	chunks := make([]recall.Chunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, *row.EtoD())
	}
	return chunks, nil
}

func (r *Repository) GetChunkContext(
	ctx context.Context,
	ownerID string,
	chunkIDs []string,
) (map[string]recall.ChunkContext, error) {
	if len(chunkIDs) == 0 {
		return map[string]recall.ChunkContext{}, nil
	}

	var rows []struct {
		ChunkID           string    `db:"chunk_id"`
		MessageID         string    `db:"message_id"`
		ConversationID    string    `db:"conversation_id"`
		ConversationTitle string    `db:"conversation_title"`
		Sender            string    `db:"sender"`
		SentAt            time.Time `db:"sent_at"`
		Content           string    `db:"content"`
	}

	if err := r.db.WithContext(ctx).
		Table("chunks").
		Select(`chunks.id AS chunk_id, messages.id AS message_id,
			conversations.id AS conversation_id, conversations.title AS conversation_title,
			messages.sender, messages.sent_at, chunks.content`).
		Joins("JOIN messages ON messages.id = chunks.message_id").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("chunks.owner_id = ? AND chunks.id IN ?", ownerID, chunkIDs).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("get chunk context: %w", err)
	}

	contexts := make(map[string]recall.ChunkContext, len(rows))
	for _, row := range rows {
		contexts[row.ChunkID] = recall.ChunkContext{
			ChunkID:           row.ChunkID,
			MessageID:         row.MessageID,
			ConversationID:    row.ConversationID,
			ConversationTitle: row.ConversationTitle,
			Sender:            row.Sender,
			SentAt:            row.SentAt,
			Content:           row.Content,
		}
	}

	return contexts, nil
}
