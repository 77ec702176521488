package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
)

type MemoryRunRepository struct {
	runs map[string]*domain.AcquisitionRun
	mu   sync.RWMutex
}

func NewMemoryRunRepository() ports.RunRepository {
	return &MemoryRunRepository{
		runs: make(map[string]*domain.AcquisitionRun),
	}
}

func (r *MemoryRunRepository) Create(ctx context.Context, run *domain.AcquisitionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}

	r.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *MemoryRunRepository) Update(ctx context.Context, run *domain.AcquisitionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; !exists {
		return domain.ErrRunNotFound
	}

	r.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *MemoryRunRepository) GetByID(ctx context.Context, id string) (*domain.AcquisitionRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, exists := r.runs[id]
	if !exists {
		return nil, domain.ErrRunNotFound
	}

	return cloneRun(run), nil
}

// ListRecent returns runs newest first. A non-positive limit returns all runs.
func (r *MemoryRunRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*domain.AcquisitionRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, cloneRun(run))
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func cloneRun(run *domain.AcquisitionRun) *domain.AcquisitionRun {
	cp := *run
	cp.Cameras = append([]string(nil), run.Cameras...)
	if run.EndedAt != nil {
		ended := *run.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}
