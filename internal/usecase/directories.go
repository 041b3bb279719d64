package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"streamgate/internal/domain"
)

// Directories resolves caller-supplied download directories. Relative paths
// are joined onto Root. With Restrict set, results must stay inside Root.
type Directories struct {
	Root     string
	Restrict bool
}

func (d Directories) Resolve(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		if strings.TrimSpace(d.Root) == "" {
			return "", fmt.Errorf("%w: directory is required", domain.ErrInvalidDirectory)
		}
		return filepath.Clean(d.Root), nil
	}

	var full string
	if filepath.IsAbs(dir) {
		full = filepath.Clean(dir)
	} else {
		if strings.TrimSpace(d.Root) == "" {
			return "", fmt.Errorf("%w: relative directory without data root", domain.ErrInvalidDirectory)
		}
		full = filepath.Join(d.Root, filepath.FromSlash(dir))
	}

	if d.Restrict {
		root, err := filepath.Abs(d.Root)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidDirectory, err)
		}
		root = filepath.Clean(root)
		abs, err := filepath.Abs(full)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidDirectory, err)
		}
		if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
			return "", fmt.Errorf("%w: %s is outside the data directory", domain.ErrInvalidDirectory, dir)
		}
		full = abs
	}
	return full, nil
}

// Removable reports whether path may be deleted recursively. The data root
// itself and the filesystem root never are.
func (d Directories) Removable(path string) bool {
	clean := filepath.Clean(path)
	if clean == string(os.PathSeparator) || clean == "." {
		return false
	}
	if strings.TrimSpace(d.Root) != "" {
		if root, err := filepath.Abs(d.Root); err == nil {
			if abs, err := filepath.Abs(clean); err == nil && abs == filepath.Clean(root) {
				return false
			}
		}
	}
	return true
}

// findVideoOnDisk walks dir and returns the largest video file below it.
func findVideoOnDisk(dir string) (string, int64, error) {
	var (
		best     string
		bestSize int64 = -1
	)
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !domain.IsVideoFile(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.Size() > bestSize {
			best, bestSize = path, info.Size()
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	if best == "" {
		return "", 0, domain.ErrNoVideoFile
	}
	return best, bestSize, nil
}
