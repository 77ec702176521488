package persistence

import (
	"fmt"
	"os"
	"path/filepath"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	apperrors "acqbridge/pkg/errors"
)

// maxSuffix bounds the search for a free directory name.
const maxSuffix = 100000

// DirAllocator creates one fresh directory per persisted acquisition.
type DirAllocator struct {
	perm os.FileMode
}

var _ ports.DirectoryAllocator = (*DirAllocator)(nil)

func NewDirAllocator() *DirAllocator {
	return &DirAllocator{perm: 0o755}
}

// Allocate creates root/prefix, or root/prefix_1, root/prefix_2, ... when
// the name is taken. root itself must already exist.
func (a *DirAllocator) Allocate(root, prefix string) (string, error) {
	for n := 0; n < maxSuffix; n++ {
		name := prefix
		if n > 0 {
			name = fmt.Sprintf("%s_%d", prefix, n)
		}
		dir := filepath.Join(root, name)

		err := os.Mkdir(dir, a.perm)
		if err == nil {
			return dir, nil
		}
		if os.IsExist(err) {
			continue
		}
		return "", apperrors.Wrap(err, apperrors.ErrCodeDirectoryCreateFailed, "create acquisition directory %s", dir).
			WithContext("root", root)
	}
	return "", apperrors.New(apperrors.ErrCodeDirectoryCreateFailed, "no free directory name for prefix %q under %s", prefix, root)
}

// StreamFiles returns the output file of each stream inside dir.
func StreamFiles(dir, format string) [domain.MaxStreams]string {
	return [domain.MaxStreams]string{
		filepath.Join(dir, "stream1."+format),
		filepath.Join(dir, "stream2."+format),
	}
}

func (a *DirAllocator) StreamFiles(dir, format string) [domain.MaxStreams]string {
	return StreamFiles(dir, format)
}
