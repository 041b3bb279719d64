package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/services/session"
)

// EngineProvider hands out the shared engine, creating it on first use.
type EngineProvider interface {
	Ensure(ctx context.Context) (ports.Engine, error)
	Current() (ports.Engine, bool)
}

// lookupSession returns the registry entry for hash. When the registry has
// lost track of a torrent the engine still holds, the torrent is adopted
// into the registry as active.
func lookupSession(engines EngineProvider, registry *session.Registry, progress ProgressPublisher, logger *slog.Logger, hash domain.ContentHash) (session.Entry, error) {
	if entry, ok := registry.Get(hash); ok {
		return entry, nil
	}
	if engines == nil {
		return session.Entry{}, domain.ErrNotFound
	}
	eng, ok := engines.Current()
	if !ok {
		return session.Entry{}, domain.ErrNotFound
	}
	t, ok := eng.Lookup(hash)
	if !ok {
		return session.Entry{}, domain.ErrNotFound
	}
	video, ok := domain.PickVideoFile(t.Files())
	if !ok {
		return session.Entry{}, domain.ErrNoVideoFile
	}

	entry, err := registry.MarkActive(domain.Session{
		Hash:        hash,
		Title:       t.Name(),
		DisplayName: t.Name(),
		VideoFile:   &video,
		State:       domain.StateActive,
	}, t)
	if errors.Is(err, session.ErrAlreadyActive) {
		return entry, nil
	}
	if err != nil {
		return session.Entry{}, err
	}
	progress.Start(entry)
	logger.Info("adopted engine torrent into registry", slog.String("hash", hash.String()))
	return entry, nil
}

// persistRecord upserts the restore record of a session. Failures are
// logged only.
func persistRecord(repo ports.RestoreRepository, logger *slog.Logger, now func() time.Time, hash domain.ContentHash, title, dir string) {
	if repo == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := repo.Upsert(ctx, domain.RestoreRecord{Hash: hash, Title: title, Directory: dir, UpdatedAt: now()})
	if err != nil {
		logger.Warn("persist restore record failed",
			slog.String("hash", hash.String()),
			slog.String("error", wrapRepo(err).Error()),
		)
	}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
