package dbschema

import (
	"time"

	"github.com/recallhq/recall-server/internal/domain/recall"
)

type Chunk struct {
	ID         string    `db:"id"`
	OwnerID    string    `db:"owner_id"`
	MessageID  string    `db:"message_id"`
	ChunkIndex int       `db:"chunk_index"`
	Content    string    `db:"content"`
	Embedding  []float32 `db:"embedding"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func NewSchemaChunk(d *recall.Chunk) *Chunk {
	if d == nil {
		return nil
	}

	return &Chunk{
		ID:         d.ID,
		OwnerID:    d.OwnerID,
		MessageID:  d.MessageID,
		ChunkIndex: d.ChunkIndex,
		Content:    d.Content,
		Embedding:  d.Embedding,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func (s *Chunk) EtoD() *recall.Chunk {
	if s == nil {
		return nil
	}

	return &recall.Chunk{
		ID:         s.ID,
		OwnerID:    s.OwnerID,
		MessageID:  s.MessageID,
		ChunkIndex: s.ChunkIndex,
		Content:    s.Content,
		Embedding:  s.Embedding,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}
