package domain

import "errors"

var ErrNotFound = errors.New("not found")

// Session errors surfaced to callers. DuplicateAttach is consumed by the
// workflows and never reaches the HTTP layer.
var (
	ErrEngineAttach      = errors.New("engine attach failed")
	ErrNoVideoFile       = errors.New("no playable video file")
	ErrDuplicateAttach   = errors.New("torrent already attached")
	ErrStreamUnavailable = errors.New("stream not available")
	ErrPausedConflict    = errors.New("session is paused")
	ErrDisk              = errors.New("disk error")
	ErrInvalidHash       = errors.New("invalid content hash")
	ErrInvalidDirectory  = errors.New("invalid directory")
)
