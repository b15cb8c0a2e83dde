package dbschema

import (
	"time"

	"github.com/recallhq/recall-server/internal/domain/recall"
)

type SyncState struct {
	ID           string     `db:"id"`
	OwnerID      string     `db:"owner_id"`
	Source       string     `db:"source"`
	Cursor       string     `db:"cursor"`
	Status       string     `db:"status"`
	LastError    string     `db:"last_error"`
	LastSyncedAt *time.Time `db:"last_synced_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func NewSchemaSyncState(d *recall.SyncState) *SyncState {
	if d == nil {
		return nil
	}

	return &SyncState{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Source:       d.Source,
		Cursor:       d.Cursor,
		Status:       string(d.Status),
		LastError:    d.LastError,
		LastSyncedAt: d.LastSyncedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (s *SyncState) EtoD() *recall.SyncState {
	if s == nil {
		return nil
	}

	return &recall.SyncState{
		ID:           s.ID,
		OwnerID:      s.OwnerID,
		Source:       s.Source,
		Cursor:       s.Cursor,
		Status:       recall.SyncStatus(s.Status),
		LastError:    s.LastError,
		LastSyncedAt: s.LastSyncedAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
