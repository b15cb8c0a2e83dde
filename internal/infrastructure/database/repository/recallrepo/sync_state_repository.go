package recallrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/recallhq/recall-server/internal/domain/recall"
	"github.com/recallhq/recall-server/internal/infrastructure/database/dbschema"
)

func (r *Repository) GetSyncState(ctx context.Context, ownerID, source string) (*recall.SyncState, error) {
	var row dbschema.SyncState
	err := r.db.WithContext(ctx).
		Table("sync_states").
		Where("owner_id = ? AND source = ?", ownerID, source).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	return row.EtoD(), nil
}

// BeginSync transitions the (owner, source) row from idle or error to
// running. The transition is a single conditional UPDATE, so two
// concurrent callers can never both win.
func (r *Repository) BeginSync(ctx context.Context, ownerID, source string) (*recall.SyncState, error) {
	now := time.Now()

	// Seed the row on first sync; losing the insert race is fine.
	if err := r.db.WithContext(ctx).
		Table("sync_states").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "source"}},
			DoNothing: true,
		}).
		Create(map[string]any{
			"id":         uuid.New().String(),
			"owner_id":   ownerID,
			"source":     source,
			"cursor":     "",
			"status":     string(recall.SyncStatusIdle),
			"last_error": "",
			"created_at": now,
			"updated_at": now,
		}).Error; err != nil {
		return nil, fmt.Errorf("seed sync state: %w", err)
	}

	result := r.db.WithContext(ctx).
		Table("sync_states").
		Where("owner_id = ? AND source = ? AND status <> ?",
			ownerID, source, string(recall.SyncStatusRunning)).
		Updates(map[string]any{
			"status":     string(recall.SyncStatusRunning),
			"last_error": "",
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("begin sync: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, recall.ErrSyncAlreadyRunning
	}

	return r.GetSyncState(ctx, ownerID, source)
}

func (r *Repository) AdvanceSyncCursor(ctx context.Context, ownerID, source, cursor string) error {
	result := r.db.WithContext(ctx).
		Table("sync_states").
		Where("owner_id = ? AND source = ? AND status = ?",
			ownerID, source, string(recall.SyncStatusRunning)).
		Updates(map[string]any{
			"cursor":     cursor,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("advance sync cursor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return recall.ErrNotFound
	}
	return nil
}

func (r *Repository) CompleteSync(ctx context.Context, ownerID, source, cursor string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Table("sync_states").
		Where("owner_id = ? AND source = ?", ownerID, source).
		Updates(map[string]any{
			"cursor":         cursor,
			"status":         string(recall.SyncStatusIdle),
			"last_error":     "",
			"last_synced_at": now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return fmt.Errorf("complete sync: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return recall.ErrNotFound
	}
	return nil
}

func (r *Repository) FailSync(ctx context.Context, ownerID, source, detail string) error {
	result := r.db.WithContext(ctx).
		Table("sync_states").
		Where("owner_id = ? AND source = ?", ownerID, source).
		Updates(map[string]any{
			"status":     string(recall.SyncStatusError),
			"last_error": detail,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("fail sync: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return recall.ErrNotFound
	}
	return nil
}
