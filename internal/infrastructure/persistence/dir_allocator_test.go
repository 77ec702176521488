package persistence

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "acqbridge/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirAllocator_Suffixes(t *testing.T) {
	root := t.TempDir()
	a := NewDirAllocator()

	first, err := a.Allocate(root, "acq")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "acq"), first)

	second, err := a.Allocate(root, "acq")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "acq_1"), second)

	third, err := a.Allocate(root, "acq")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "acq_2"), third)

	for _, dir := range []string{first, second, third} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestDirAllocator_MissingRoot(t *testing.T) {
	_, err := NewDirAllocator().Allocate(filepath.Join(t.TempDir(), "missing"), "acq")
	assert.ErrorIs(t, err, apperrors.ErrDirectoryCreateFailed)
}

func TestStreamFiles(t *testing.T) {
	files := StreamFiles("/data/acq_1", "Zarr")
	assert.Equal(t, "/data/acq_1/stream1.Zarr", files[0])
	assert.Equal(t, "/data/acq_1/stream2.Zarr", files[1])
}
