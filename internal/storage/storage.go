// Package storage defines the persistence interface for legal passages.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/nyaya/internal/models"
)

// ErrNotFound is returned when a passage does not exist.
var ErrNotFound = errors.New("passage not found")

// Storage defines passage persistence operations.
type Storage interface {
	UpsertPassage(ctx context.Context, p *models.Passage) error
	BatchUpsertPassages(ctx context.Context, passages []models.Passage) error
	GetPassage(ctx context.Context, key models.PassageKey) (*models.Passage, error)
	// GetPassages returns the stored passages for keys; missing keys are omitted.
	GetPassages(ctx context.Context, keys []models.PassageKey) (map[models.PassageKey]models.Passage, error)
	ListPassages(ctx context.Context, offset, limit int) ([]models.Passage, error)
	DeletePassage(ctx context.Context, key models.PassageKey) error
	DeleteDocument(ctx context.Context, documentID string) error

	CountPassages(ctx context.Context) (int64, error)

	Close() error
}
