// internal/service/acquisition_service.go
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/export"
	"scope-service/internal/model"
	"scope-service/internal/repository"
	"scope-service/pkg/driver"
)

// AcquisitionPage is one page of acquisitions
type AcquisitionPage struct {
	Acquisitions []*model.Acquisition `json:"acquisitions"`
	Total        int                  `json:"total"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

// CreateAcquisition creates an empty acquisition
func (s *InstrumentService) CreateAcquisition(ctx context.Context) (*model.Acquisition, error) {
	now := time.Now()
	acquisition := &model.Acquisition{
		ID:        uuid.New(),
		Waveforms: make(map[model.Channel]*model.Waveform),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.acquisitionRepo.Create(ctx, acquisition); err != nil {
		return nil, fmt.Errorf("failed to create acquisition: %w", err)
	}

	s.logger.Info("Acquisition created", zap.String("acquisition_id", acquisition.ID.String()))
	return acquisition, nil
}

// ListAcquisitions lists acquisitions oldest first
func (s *InstrumentService) ListAcquisitions(ctx context.Context, limit, offset int) (*AcquisitionPage, error) {
	acquisitions, total, err := s.acquisitionRepo.List(ctx, &repository.AcquisitionFilter{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list acquisitions: %w", err)
	}

	return &AcquisitionPage{
		Acquisitions: acquisitions,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// GetAcquisition retrieves one acquisition
func (s *InstrumentService) GetAcquisition(ctx context.Context, id uuid.UUID) (*model.Acquisition, error) {
	return s.acquisitionRepo.GetByID(ctx, id)
}

// DeleteAcquisition removes an acquisition
func (s *InstrumentService) DeleteAcquisition(ctx context.Context, id uuid.UUID) error {
	if err := s.acquisitionRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Acquisition deleted", zap.String("acquisition_id", id.String()))
	return nil
}

// Capture acquires a curve on each requested channel, in CH1, CH2 order, and
// stores it in the acquisition, replacing any earlier waveform of that
// channel. No channels means all channels. Channels captured before a failure
// are kept. Each waveform is merged into the stored record on its own, so
// concurrent captures of different channels do not overwrite each other.
func (s *InstrumentService) Capture(ctx context.Context, id uuid.UUID, channels []model.Channel) (*model.Acquisition, error) {
	acquisition, err := s.acquisitionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	requested := make(map[model.Channel]bool, len(channels))
	for _, channel := range channels {
		requested[channel] = true
	}

	var captureErr error
	captured := 0
	err = s.withScope(func(scope driver.Oscilloscope) error {
		for _, channel := range model.Channels {
			if len(requested) > 0 && !requested[channel] {
				continue
			}
			waveform, err := scope.AcquireCurve(ctx, channel)
			if err != nil {
				captureErr = fmt.Errorf("capture %s: %w", channel, err)
				return nil
			}
			stored, err := s.acquisitionRepo.SetWaveform(ctx, id, waveform)
			if err != nil {
				return fmt.Errorf("failed to store acquisition: %w", err)
			}
			acquisition = stored
			captured++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if captureErr != nil {
		return acquisition, captureErr
	}

	s.logger.Info("Acquisition captured",
		zap.String("acquisition_id", id.String()),
		zap.Int("channels", captured),
	)
	return acquisition, nil
}

// ExportCSV writes the acquisition as CSV
func (s *InstrumentService) ExportCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	acquisition, err := s.acquisitionRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return export.Encode(w, acquisition.Waveforms)
}
