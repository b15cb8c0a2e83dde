package dbschema

import (
	"encoding/json"
	"time"

	"github.com/recallhq/recall-server/internal/domain/recall"
)

type Message struct {
	ID             string    `db:"id"`
	OwnerID        string    `db:"owner_id"`
	ConversationID string    `db:"conversation_id"`
	ExternalID     string    `db:"external_id"`
	Sender         string    `db:"sender"`
	SentAt         time.Time `db:"sent_at"`
	Body           string    `db:"body"`
	Metadata       string    `db:"metadata"`
	CreatedAt      time.Time `db:"created_at"`
}

func NewSchemaMessage(d *recall.Message) *Message {
	if d == nil {
		return nil
	}

	metadata := ""
	if len(d.Metadata) > 0 {
		raw, _ := json.Marshal(d.Metadata)
		metadata = string(raw)
	}

	return &Message{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		ConversationID: d.ConversationID,
		ExternalID:     d.ExternalID,
		Sender:         d.Sender,
		SentAt:         d.SentAt,
		Body:           d.Body,
		Metadata:       metadata,
		CreatedAt:      d.CreatedAt,
	}
}

func (s *Message) EtoD() *recall.Message {
	if s == nil {
		return nil
	}

	var metadata map[string]string
	if s.Metadata != "" {
		_ = json.Unmarshal([]byte(s.Metadata), &metadata)
	}

	return &recall.Message{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		ConversationID: s.ConversationID,
		ExternalID:     s.ExternalID,
		Sender:         s.Sender,
		SentAt:         s.SentAt,
		Body:           s.Body,
		Metadata:       metadata,
		CreatedAt:      s.CreatedAt,
	}
}
