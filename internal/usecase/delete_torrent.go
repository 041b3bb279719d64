package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/services/session"
)

type DeleteTorrent struct {
	Engines  EngineProvider
	Registry *session.Registry
	Repo     ports.RestoreRepository
	Cache    ports.SnapshotCache
	Dirs     Directories
	Logger   *slog.Logger
}

// Execute detaches the torrent, removes directory and forgets the hash.
// Deleting an unknown hash only removes the directory.
func (uc DeleteTorrent) Execute(ctx context.Context, raw, directory string) error {
	hash := domain.NormalizeHash(raw)
	if !hash.Valid() {
		return domain.ErrInvalidHash
	}
	dir, err := uc.Dirs.Resolve(directory)
	if err != nil {
		return err
	}
	if !uc.Dirs.Removable(dir) {
		return fmt.Errorf("%w: refusing to remove %s", domain.ErrInvalidDirectory, dir)
	}
	logger := loggerOrDefault(uc.Logger)

	if entry, ok := uc.Registry.Remove(hash); ok && entry.Torrent != nil {
		detach(entry.Torrent)
	} else if uc.Engines != nil {
		if eng, ok := uc.Engines.Current(); ok {
			if t, ok := eng.Lookup(hash); ok {
				detach(t)
			}
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return wrapDisk("remove", dir, err)
	}

	if uc.Repo != nil {
		if err := uc.Repo.Delete(ctx, hash); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("delete restore record failed",
				slog.String("hash", hash.String()),
				slog.String("error", wrapRepo(err).Error()),
			)
		}
	}
	if uc.Cache != nil {
		if err := uc.Cache.Delete(ctx, hash); err != nil {
			logger.Debug("delete cached snapshot failed",
				slog.String("hash", hash.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Info("session deleted",
		slog.String("hash", hash.String()),
		slog.String("dir", dir),
	)
	return nil
}

func detach(t ports.Torrent) {
	t.DeselectAll()
	t.Pause()
	t.Drop()
}
