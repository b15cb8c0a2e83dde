package dbschema

import (
	"encoding/json"
	"time"

	"github.com/recallhq/recall-server/internal/domain/recall"
)

type Conversation struct {
	ID             string    `db:"id"`
	OwnerID        string    `db:"owner_id"`
	Source         string    `db:"source"`
	ExternalID     string    `db:"external_id"`
	Title          string    `db:"title"`
	Participants   string    `db:"participants"`
	LastActivityAt time.Time `db:"last_activity_at"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func NewSchemaConversation(d *recall.Conversation) *Conversation {
	if d == nil {
		return nil
	}

	participants, _ := json.Marshal(d.Participants)

	return &Conversation{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		Source:         d.Source,
		ExternalID:     d.ExternalID,
		Title:          d.Title,
		Participants:   string(participants),
		LastActivityAt: d.LastActivityAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func (s *Conversation) EtoD() *recall.Conversation {
	if s == nil {
		return nil
	}

	var participants []string
	if s.Participants != "" {
		_ = json.Unmarshal([]byte(s.Participants), &participants)
	}

	return &recall.Conversation{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		Source:         s.Source,
		ExternalID:     s.ExternalID,
		Title:          s.Title,
		Participants:   participants,
		LastActivityAt: s.LastActivityAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
