package repositories

import (
	"context"
	"errors"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	"acqbridge/pkg/circuitbreaker"
)

// guardedRunRepository fails fast while the backing store keeps erroring.
// A missing run is an answer, not a store failure.
type guardedRunRepository struct {
	next    ports.RunRepository
	breaker *circuitbreaker.Breaker
}

func newGuardedRunRepository(next ports.RunRepository, breaker *circuitbreaker.Breaker) *guardedRunRepository {
	return &guardedRunRepository{next: next, breaker: breaker}
}

func isStoreFailure(err error) bool {
	return !errors.Is(err, domain.ErrRunNotFound)
}

func (r *guardedRunRepository) Create(ctx context.Context, run *domain.AcquisitionRun) error {
	return r.breaker.Do(func() error { return r.next.Create(ctx, run) })
}

func (r *guardedRunRepository) Update(ctx context.Context, run *domain.AcquisitionRun) error {
	return r.breaker.Do(func() error { return r.next.Update(ctx, run) })
}

func (r *guardedRunRepository) GetByID(ctx context.Context, id string) (*domain.AcquisitionRun, error) {
	return circuitbreaker.Call(r.breaker, func() (*domain.AcquisitionRun, error) {
		return r.next.GetByID(ctx, id)
	})
}

func (r *guardedRunRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error) {
	return circuitbreaker.Call(r.breaker, func() ([]*domain.AcquisitionRun, error) {
		return r.next.ListRecent(ctx, limit)
	})
}
