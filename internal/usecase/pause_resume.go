package usecase

import (
	"context"
	"log/slog"

	"streamgate/internal/domain"
	"streamgate/internal/services/session"
)

type PauseTorrent struct {
	Engines  EngineProvider
	Registry *session.Registry
	Progress ProgressPublisher
	Logger   *slog.Logger
}

// Execute marks the session stopped and halts its download. Completed
// sessions are left untouched.
func (uc PauseTorrent) Execute(ctx context.Context, raw string) (session.Entry, error) {
	hash := domain.NormalizeHash(raw)
	if !hash.Valid() {
		return session.Entry{}, domain.ErrInvalidHash
	}
	logger := loggerOrDefault(uc.Logger)
	entry, err := lookupSession(uc.Engines, uc.Registry, uc.Progress, logger, hash)
	if err != nil {
		return session.Entry{}, err
	}
	if entry.Session.Completed() || entry.Torrent == nil {
		return entry, nil
	}

	uc.Registry.MarkStopped(hash)
	t := entry.Torrent
	t.Pause()
	if entry.Session.VideoFile != nil {
		if err := t.DeselectFile(entry.Session.VideoFile.Index); err != nil {
			logger.Debug("deselect on pause failed",
				slog.String("hash", hash.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if !t.Paused() {
		t.Pause()
		if !t.Paused() {
			logger.Warn("engine did not honour pause", slog.String("hash", hash.String()))
		}
	}
	if err := uc.Registry.SetState(hash, domain.StatePaused); err != nil {
		logger.Debug("pause state transition skipped",
			slog.String("hash", hash.String()),
			slog.String("error", err.Error()),
		)
	}
	logger.Info("session paused", slog.String("hash", hash.String()))
	if updated, ok := uc.Registry.Get(hash); ok {
		return updated, nil
	}
	return entry, nil
}

type ResumeTorrent struct {
	Engines  EngineProvider
	Registry *session.Registry
	Progress ProgressPublisher
	Logger   *slog.Logger
}

// Execute lifts the stopped flag and restarts the download. Completed
// sessions are returned as-is without engine calls.
func (uc ResumeTorrent) Execute(ctx context.Context, raw string) (session.Entry, error) {
	hash := domain.NormalizeHash(raw)
	if !hash.Valid() {
		return session.Entry{}, domain.ErrInvalidHash
	}
	logger := loggerOrDefault(uc.Logger)
	entry, err := lookupSession(uc.Engines, uc.Registry, uc.Progress, logger, hash)
	if err != nil {
		return session.Entry{}, err
	}
	if entry.Session.Completed() || entry.Torrent == nil {
		return entry, nil
	}

	uc.Registry.ClearStopped(hash)
	t := entry.Torrent
	if entry.Session.VideoFile != nil {
		if err := t.SelectFile(entry.Session.VideoFile.Index); err != nil {
			return session.Entry{}, wrapEngine(err)
		}
	}
	t.Resume()
	if err := uc.Registry.SetState(hash, domain.StateActive); err != nil {
		logger.Debug("resume state transition skipped",
			slog.String("hash", hash.String()),
			slog.String("error", err.Error()),
		)
	}
	logger.Info("session resumed", slog.String("hash", hash.String()))
	if updated, ok := uc.Registry.Get(hash); ok {
		return updated, nil
	}
	return entry, nil
}
