// internal/repository/interfaces.go
package repository

import (
	"context"

	"github.com/google/uuid"

	"scope-service/internal/model"
)

// AcquisitionRepository defines acquisition data access operations
type AcquisitionRepository interface {
	// CRUD operations
	Create(ctx context.Context, acquisition *model.Acquisition) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Acquisition, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// SetWaveform stores one channel's waveform, leaving the other channels
	// as they are, and returns the updated acquisition
	SetWaveform(ctx context.Context, id uuid.UUID, waveform *model.Waveform) (*model.Acquisition, error)

	// Listing
	List(ctx context.Context, filter *AcquisitionFilter) ([]*model.Acquisition, int, error)
}

// AcquisitionFilter represents acquisition listing parameters
type AcquisitionFilter struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
