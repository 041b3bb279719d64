package usecase

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
	"streamgate/internal/services/session"
)

const (
	defaultStreamReadahead         = 16 << 20
	defaultRegistryWait            = 2 * time.Second
	defaultRegistryPoll            = 100 * time.Millisecond
	priorityWindowMultiplier int64 = 4
	minPriorityWindowBytes   int64 = 32 << 20
	maxPriorityWindowBytes   int64 = 256 << 20
)

func streamPriorityWindow(readahead, fileLength int64) int64 {
	if readahead <= 0 {
		readahead = defaultStreamReadahead
	}
	window := readahead * priorityWindowMultiplier
	if window < minPriorityWindowBytes {
		window = minPriorityWindowBytes
	}
	// Large files get 1% of their size.
	if fileLength > 0 {
		scaled := fileLength / 100
		if scaled > window {
			window = scaled
		}
	}
	if window > maxPriorityWindowBytes {
		window = maxPriorityWindowBytes
	}
	return window
}

// StreamResult is either a completed file on disk (FilePath set) or a live
// reader over a downloading torrent (Reader set).
type StreamResult struct {
	Hash     domain.ContentHash
	File     domain.FileRef
	FilePath string
	Reader   ports.StreamReader

	OnRelease func()
	OnFocus   func(off int64)
}

func (r StreamResult) Live() bool {
	return r.Reader != nil
}

// Release ends interest in the file. The torrent stays attached.
func (r StreamResult) Release() {
	if r.OnRelease != nil {
		r.OnRelease()
	}
}

// Focus raises the priority of the window starting at off.
func (r StreamResult) Focus(off int64) {
	if r.OnFocus != nil {
		r.OnFocus(off)
	}
}

type StreamInput struct {
	Hash       string
	Directory  string
	Subscriber domain.SubscriberID
}

type StreamTorrent struct {
	Engines        EngineProvider
	Registry       *session.Registry
	Exclusive      Exclusivity
	Progress       ProgressPublisher
	Repo           ports.RestoreRepository
	Dirs           Directories
	Logger         *slog.Logger
	ReadaheadBytes int64
	RegistryWait   time.Duration
	RegistryPoll   time.Duration
}

func (uc StreamTorrent) Execute(ctx context.Context, input StreamInput) (StreamResult, error) {
	hash := domain.NormalizeHash(input.Hash)
	if !hash.Valid() {
		return StreamResult{}, domain.ErrInvalidHash
	}
	logger := loggerOrDefault(uc.Logger)

	entry, ok := uc.waitForSession(ctx, hash)
	if !ok {
		if uc.Registry.IsAdding(hash) || uc.Registry.IsRestoring(hash) {
			return StreamResult{}, domain.ErrStreamUnavailable
		}
		if res, ok := uc.completedFromRecord(ctx, hash, input.Directory); ok {
			return res, nil
		}
		adopted, err := lookupSession(uc.Engines, uc.Registry, uc.Progress, logger, hash)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNoVideoFile) {
				return StreamResult{}, domain.ErrStreamUnavailable
			}
			return StreamResult{}, err
		}
		entry = adopted
	}

	file := entry.Session.VideoFile
	if file == nil || entry.Torrent == nil {
		return StreamResult{}, domain.ErrStreamUnavailable
	}

	if entry.Session.Completed() || entry.Torrent.FileBytesCompleted(file.Index) >= file.Length && file.Length > 0 {
		if res, err := uc.diskResult(hash, entry.Session.Directory, file); err == nil {
			return res, nil
		} else if entry.Session.Completed() {
			return StreamResult{}, err
		}
	}

	if uc.Registry.IsStopped(hash) {
		return StreamResult{}, domain.ErrPausedConflict
	}

	uc.Exclusive.Enforce(hash)
	t := entry.Torrent
	if err := t.SelectFile(file.Index); err != nil {
		return StreamResult{}, wrapEngine(err)
	}
	if t.Paused() {
		t.Resume()
	}
	if entry.Session.State == domain.StatePaused {
		_ = uc.Registry.SetState(hash, domain.StateActive)
	}
	uc.Registry.SetSubscriber(hash, input.Subscriber)

	reader, err := t.NewReader(file.Index)
	if err != nil {
		return StreamResult{}, wrapEngine(err)
	}
	readahead := uc.ReadaheadBytes
	if readahead <= 0 {
		readahead = defaultStreamReadahead
	}
	reader.SetContext(ctx)
	reader.SetReadahead(readahead)
	reader.SetResponsive()

	window := streamPriorityWindow(readahead, file.Length)
	index := file.Index
	metrics.StreamRequestsTotal.WithLabelValues("live").Inc()
	return StreamResult{
		Hash:   hash,
		File:   *file,
		Reader: reader,
		OnRelease: func() {
			if err := t.DeselectFile(index); err != nil {
				logger.Debug("deselect after stream failed",
					slog.String("hash", hash.String()),
					slog.String("error", err.Error()),
				)
			}
		},
		OnFocus: func(off int64) {
			if err := t.Prioritize(index, domain.Range{Off: off, Length: window}, domain.PriorityHigh); err != nil {
				logger.Debug("focus priority failed",
					slog.String("hash", hash.String()),
					slog.Int64("offset", off),
					slog.String("error", err.Error()),
				)
			}
		},
	}, nil
}

// waitForSession gives an in-flight attach a short grace period to register.
func (uc StreamTorrent) waitForSession(ctx context.Context, hash domain.ContentHash) (session.Entry, bool) {
	if entry, ok := uc.Registry.Get(hash); ok {
		return entry, true
	}
	if !uc.Registry.IsAdding(hash) && !uc.Registry.IsRestoring(hash) {
		return session.Entry{}, false
	}

	deadline := time.NewTimer(durationOr(uc.RegistryWait, defaultRegistryWait))
	defer deadline.Stop()
	ticker := time.NewTicker(durationOr(uc.RegistryPoll, defaultRegistryPoll))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return session.Entry{}, false
		case <-deadline.C:
			return uc.Registry.Get(hash)
		case <-ticker.C:
			if entry, ok := uc.Registry.Get(hash); ok {
				return entry, true
			}
		}
	}
}

func (uc StreamTorrent) completedFromRecord(ctx context.Context, hash domain.ContentHash, dir string) (StreamResult, bool) {
	if uc.Repo == nil {
		return StreamResult{}, false
	}
	rec, err := uc.Repo.Get(ctx, hash)
	if err != nil || !rec.IsCompleted {
		return StreamResult{}, false
	}
	if rec.Directory != "" {
		dir = rec.Directory
	}
	res, err := uc.diskResult(hash, dir, nil)
	if err != nil {
		loggerOrDefault(uc.Logger).Warn("completed file missing on disk",
			slog.String("hash", hash.String()),
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return StreamResult{}, false
	}
	return res, true
}

func (uc StreamTorrent) diskResult(hash domain.ContentHash, dir string, file *domain.FileRef) (StreamResult, error) {
	resolved, err := uc.Dirs.Resolve(dir)
	if err != nil {
		return StreamResult{}, err
	}
	if file != nil {
		path := filepath.Join(resolved, filepath.FromSlash(file.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			metrics.StreamRequestsTotal.WithLabelValues("disk").Inc()
			ref := *file
			ref.Length = info.Size()
			return StreamResult{Hash: hash, File: ref, FilePath: path}, nil
		}
	}
	path, size, err := findVideoOnDisk(resolved)
	if err != nil {
		return StreamResult{}, domain.ErrStreamUnavailable
	}
	rel, relErr := filepath.Rel(resolved, path)
	if relErr != nil {
		rel = filepath.Base(path)
	}
	metrics.StreamRequestsTotal.WithLabelValues("disk").Inc()
	return StreamResult{
		Hash:     hash,
		File:     domain.FileRef{Path: filepath.ToSlash(rel), Length: size, BytesCompleted: size},
		FilePath: path,
	}, nil
}
