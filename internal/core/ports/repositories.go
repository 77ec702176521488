package ports

import (
	"context"

	"acqbridge/internal/core/domain"
)

type RunRepository interface {
	Create(ctx context.Context, run *domain.AcquisitionRun) error
	Update(ctx context.Context, run *domain.AcquisitionRun) error
	GetByID(ctx context.Context, id string) (*domain.AcquisitionRun, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error)
}
