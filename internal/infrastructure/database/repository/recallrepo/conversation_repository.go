package recallrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/recallhq/recall-server/internal/domain/recall"
	"github.com/recallhq/recall-server/internal/infrastructure/database/dbschema"
)

func (r *Repository) UpsertConversation(ctx context.Context, conversation *recall.Conversation) (string, error) {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}

	now := time.Now()
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = now
	}
	conversation.UpdatedAt = now

	schema := dbschema.NewSchemaConversation(conversation)

	if err := r.db.WithContext(ctx).
		Table("conversations").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "source"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "participants", "last_activity_at", "updated_at"}),
		}).
		Create(map[string]any{
			"id":               schema.ID,
			"owner_id":         schema.OwnerID,
			"source":           schema.Source,
			"external_id":      schema.ExternalID,
			"title":            schema.Title,
			"participants":     schema.Participants,
			"last_activity_at": schema.LastActivityAt,
			"created_at":       schema.CreatedAt,
			"updated_at":       schema.UpdatedAt,
		}).Error; err != nil {
		return "", fmt.Errorf("upsert conversation: %w", err)
	}

	// The generated id loses on conflict; read back the winning row.
	var row dbschema.Conversation
	if err := r.db.WithContext(ctx).
		Table("conversations").
		Select("id").
		Where("owner_id = ? AND source = ? AND external_id = ?",
			schema.OwnerID, schema.Source, schema.ExternalID).
		Take(&row).Error; err != nil {
		return "", fmt.Errorf("read conversation id: %w", err)
	}

	return row.ID, nil
}

func (r *Repository) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	// Messages and chunks go with it via ON DELETE CASCADE.
	result := r.db.WithContext(ctx).
		Exec("DELETE FROM conversations WHERE id = ? AND owner_id = ?", conversationID, ownerID)
	if result.Error != nil {
		return fmt.Errorf("delete conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return recall.ErrNotFound
	}
	return nil
}
