package recallrepo

import (
	"gorm.io/gorm"

	"github.com/recallhq/recall-server/internal/domain/recall"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ recall.Repository = (*Repository)(nil)
