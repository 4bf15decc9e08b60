// internal/repository/acquisition_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/model"
)

// memoryAcquisitionRepository keeps acquisitions for the lifetime of the
// process. Waveforms are immutable and shared; the acquisition record and its
// channel map are copied on every read and write.
type memoryAcquisitionRepository struct {
	mutex        sync.RWMutex
	acquisitions map[uuid.UUID]*model.Acquisition
	logger       *zap.Logger
}

// NewAcquisitionRepository creates an in-memory acquisition repository
func NewAcquisitionRepository(logger *zap.Logger) AcquisitionRepository {
	return &memoryAcquisitionRepository{
		acquisitions: make(map[uuid.UUID]*model.Acquisition),
		logger:       logger,
	}
}

// Create stores a new acquisition
func (r *memoryAcquisitionRepository) Create(ctx context.Context, acquisition *model.Acquisition) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.acquisitions[acquisition.ID]; exists {
		return fmt.Errorf("acquisition %s already exists", acquisition.ID)
	}
	r.acquisitions[acquisition.ID] = cloneAcquisition(acquisition)

	r.logger.Debug("Acquisition created", zap.String("acquisition_id", acquisition.ID.String()))
	return nil
}

// GetByID retrieves an acquisition by its UUID
func (r *memoryAcquisitionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Acquisition, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	acquisition, ok := r.acquisitions[id]
	if !ok {
		return nil, fmt.Errorf("acquisition %s: %w", id, model.ErrNotFound)
	}
	return cloneAcquisition(acquisition), nil
}

// SetWaveform replaces the waveform of waveform.Channel in place
func (r *memoryAcquisitionRepository) SetWaveform(ctx context.Context, id uuid.UUID, waveform *model.Waveform) (*model.Acquisition, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acquisition, ok := r.acquisitions[id]
	if !ok {
		return nil, fmt.Errorf("acquisition %s: %w", id, model.ErrNotFound)
	}

	updated := cloneAcquisition(acquisition)
	updated.Waveforms[waveform.Channel] = waveform
	updated.UpdatedAt = time.Now()
	r.acquisitions[id] = updated

	return cloneAcquisition(updated), nil
}

// Delete removes an acquisition
func (r *memoryAcquisitionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.acquisitions[id]; !ok {
		return fmt.Errorf("acquisition %s: %w", id, model.ErrNotFound)
	}
	delete(r.acquisitions, id)

	r.logger.Debug("Acquisition deleted", zap.String("acquisition_id", id.String()))
	return nil
}

// List returns acquisitions oldest first with the total count
func (r *memoryAcquisitionRepository) List(ctx context.Context, filter *AcquisitionFilter) ([]*model.Acquisition, int, error) {
	r.mutex.RLock()
	all := make([]*model.Acquisition, 0, len(r.acquisitions))
	for _, acquisition := range r.acquisitions {
		all = append(all, cloneAcquisition(acquisition))
	}
	r.mutex.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if filter == nil {
		return all, total, nil
	}

	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return all[start:end], total, nil
}

func cloneAcquisition(acquisition *model.Acquisition) *model.Acquisition {
	clone := *acquisition
	clone.Waveforms = make(map[model.Channel]*model.Waveform, len(acquisition.Waveforms))
	for channel, waveform := range acquisition.Waveforms {
		clone.Waveforms[channel] = waveform
	}
	return &clone
}
