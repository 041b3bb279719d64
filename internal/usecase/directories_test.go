package usecase

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"streamgate/internal/domain"
)

func TestDirectoriesResolve(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	tests := []struct {
		name    string
		dirs    Directories
		in      string
		want    string
		wantErr bool
	}{
		{"relative joins root", Directories{Root: root}, "a/b", filepath.Join(root, "a", "b"), false},
		{"empty is root", Directories{Root: root}, "", root, false},
		{"absolute unrestricted", Directories{Root: root}, outside, outside, false},
		{"absolute inside restricted", Directories{Root: root, Restrict: true}, filepath.Join(root, "x"), filepath.Join(root, "x"), false},
		{"escape restricted", Directories{Root: root, Restrict: true}, "../evil", "", true},
		{"absolute outside restricted", Directories{Root: root, Restrict: true}, outside, "", true},
		{"relative without root", Directories{}, "a", "", true},
		{"empty without root", Directories{}, "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.dirs.Resolve(tc.in)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidDirectory) {
					t.Fatalf("expected ErrInvalidDirectory, got %v (%q)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDirectoriesRemovable(t *testing.T) {
	root := t.TempDir()
	d := Directories{Root: root}
	if d.Removable(root) {
		t.Fatalf("data root must not be removable")
	}
	if d.Removable(string(os.PathSeparator)) {
		t.Fatalf("filesystem root must not be removable")
	}
	if !d.Removable(filepath.Join(root, "movie")) {
		t.Fatalf("subdirectory should be removable")
	}
}

func TestFindVideoOnDisk(t *testing.T) {
	dir := t.TempDir()
	writeVideo(t, dir, "a/small.MP4", 5)
	big := writeVideo(t, dir, "b/large.mkv", 50)
	writeVideo(t, dir, "c/huge.avi", 500)

	path, size, err := findVideoOnDisk(dir)
	if err != nil {
		t.Fatalf("findVideoOnDisk: %v", err)
	}
	if path != big || size != 50 {
		t.Fatalf("got %s (%d), want %s", path, size, big)
	}

	empty := t.TempDir()
	if _, _, err := findVideoOnDisk(empty); !errors.Is(err, domain.ErrNoVideoFile) {
		t.Fatalf("expected ErrNoVideoFile, got %v", err)
	}
}
