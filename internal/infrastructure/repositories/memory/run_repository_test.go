package memory

import (
	"context"
	"testing"
	"time"

	"acqbridge/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRunRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRunRepository()

	run := &domain.AcquisitionRun{
		ID:        "run_a",
		Kind:      domain.RunKindSequence,
		Cameras:   []string{"simulated: empty"},
		Status:    domain.RunStatusActive,
		StartedAt: time.Now(),
	}
	require.NoError(t, repo.Create(ctx, run))
	assert.Error(t, repo.Create(ctx, run))

	// stored copies are isolated from the caller
	run.Cameras[0] = "changed"
	got, err := repo.GetByID(ctx, "run_a")
	require.NoError(t, err)
	assert.Equal(t, "simulated: empty", got.Cameras[0])

	got.Status = domain.RunStatusCompleted
	got.FramesPerChannel = 10
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.GetByID(ctx, "run_a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, uint64(10), got.FramesPerChannel)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &domain.AcquisitionRun{ID: "missing"}), domain.ErrRunNotFound)
}

func TestMemoryRunRepository_ListRecent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRunRepository()
	base := time.Now()

	for i, id := range []string{"run_1", "run_2", "run_3"} {
		require.NoError(t, repo.Create(ctx, &domain.AcquisitionRun{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	runs, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_3", runs[0].ID)
	assert.Equal(t, "run_2", runs[1].ID)

	runs, err = repo.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
