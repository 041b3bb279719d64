package domain

import (
	"path"
	"strings"
)

type FileRef struct {
	Index          int    `json:"index"`
	Path           string `json:"path"`
	Length         int64  `json:"length"`
	BytesCompleted int64  `json:"bytesCompleted"`
}

func (f FileRef) Complete() bool {
	return f.Length > 0 && f.BytesCompleted >= f.Length
}

var videoExtensions = []string{".mp4", ".mkv"}

func IsVideoFile(name string) bool {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	for _, v := range videoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// PickVideoFile returns the largest file with a known video extension.
// Ties keep the earliest file.
func PickVideoFile(files []FileRef) (FileRef, bool) {
	var (
		best  FileRef
		found bool
	)
	for _, f := range files {
		if !IsVideoFile(f.Path) {
			continue
		}
		if !found || f.Length > best.Length {
			best = f
			found = true
		}
	}
	return best, found
}
