package recallrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/recallhq/recall-server/internal/domain/recall"
	"github.com/recallhq/recall-server/internal/infrastructure/database/dbschema"
)

func (r *Repository) GetMessageByExternalID(ctx context.Context, ownerID, externalID string) (*recall.Message, error) {
	var row dbschema.Message
	err := r.db.WithContext(ctx).
		Table("messages").
		Where("owner_id = ? AND external_id = ?", ownerID, externalID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message by external id: %w", err)
	}

	return row.EtoD(), nil
}

func (r *Repository) CreateMessage(ctx context.Context, message *recall.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	schema := dbschema.NewSchemaMessage(message)

	// The dedup index is partial, so rows with an empty external id
	// never conflict and always insert.
	result := r.db.WithContext(ctx).
		Table("messages").
		Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "owner_id"}, {Name: "external_id"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "external_id <> ''"}}},
			DoNothing:   true,
		}).
		Create(map[string]any{
			"id":              schema.ID,
			"owner_id":        schema.OwnerID,
			"conversation_id": schema.ConversationID,
			"external_id":     schema.ExternalID,
			"sender":          schema.Sender,
			"sent_at":         schema.SentAt,
			"body":            schema.Body,
			"metadata":        schema.Metadata,
			"created_at":      schema.CreatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("create message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return recall.ErrDuplicateMessage
	}
	return nil
}
