package ports

import (
	"context"

	"streamgate/internal/domain"
)

// Engine is the shared download engine. Attach returns once metadata is
// parsed. When the engine already holds the hash it returns the existing
// torrent together with domain.ErrDuplicateAttach.
type Engine interface {
	Attach(ctx context.Context, magnet, directory string) (Torrent, error)
	Lookup(hash domain.ContentHash) (Torrent, bool)
	// Fatal fires at most once when the engine can no longer serve requests.
	Fatal() <-chan error
	Close() error
}

type Torrent interface {
	Hash() domain.ContentHash
	Name() string
	Files() []domain.FileRef
	SelectFile(index int) error
	DeselectFile(index int) error
	DeselectAll()
	Prioritize(index int, r domain.Range, prio domain.Priority) error
	Pause()
	Resume()
	Paused() bool
	FileBytesCompleted(index int) int64
	NewReader(index int) (StreamReader, error)
	// Events emits progress samples for the given file until ctx is done.
	// The final event for a completed file has Kind EventDone.
	Events(ctx context.Context, index int) <-chan TorrentEvent
	Drop()
}

type EventKind int

const (
	EventProgress EventKind = iota
	EventDone
)

type TorrentEvent struct {
	Kind                EventKind
	FileBytesCompleted  int64
	FileLength          int64
	BytesReadUsefulData int64
	Peers               int
	Paused              bool
}
