package usecase

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
	"streamgate/internal/services/session"
	"streamgate/internal/services/torrent/magnet"
)

const defaultRestoreConcurrency = 4

// RestoreTorrents re-attaches previously started sessions in a paused,
// stopped state. Overlapping restores of one hash share a single attach.
type RestoreTorrents struct {
	Engines       EngineProvider
	Registry      *session.Registry
	Progress      ProgressPublisher
	Repo          ports.RestoreRepository
	Dirs          Directories
	Logger        *slog.Logger
	Now           func() time.Time
	AttachTimeout time.Duration
	Concurrency   int

	group singleflight.Group
}

func (uc *RestoreTorrents) Execute(ctx context.Context, records []domain.RestoreRecord) []domain.RestoreResult {
	results := make([]domain.RestoreResult, len(records))
	limit := uc.Concurrency
	if limit <= 0 {
		limit = defaultRestoreConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, rec := range records {
		g.Go(func() error {
			results[i] = uc.restoreOne(gctx, rec)
			metrics.RestoreTotal.WithLabelValues(string(results[i].Status)).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FromRepository restores every persisted record.
func (uc *RestoreTorrents) FromRepository(ctx context.Context) ([]domain.RestoreResult, error) {
	if uc.Repo == nil {
		return nil, nil
	}
	records, err := uc.Repo.List(ctx)
	if err != nil {
		return nil, wrapRepo(err)
	}
	return uc.Execute(ctx, records), nil
}

func (uc *RestoreTorrents) restoreOne(ctx context.Context, rec domain.RestoreRecord) domain.RestoreResult {
	rec.Hash = domain.NormalizeHash(string(rec.Hash))
	result := domain.RestoreResult{Hash: rec.Hash}
	if err := rec.Validate(); err != nil {
		result.Status = domain.RestoreFailed
		result.Error = err.Error()
		return result
	}
	if rec.IsCompleted {
		result.Status = domain.RestoreSkipped
		return result
	}
	if _, ok := uc.Registry.Get(rec.Hash); ok || uc.Registry.IsAdding(rec.Hash) {
		result.Status = domain.RestoreActive
		return result
	}

	ch := uc.group.DoChan(string(rec.Hash), func() (any, error) {
		return uc.attach(rec)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			result.Status = domain.RestoreFailed
			result.Error = res.Err.Error()
			loggerOrDefault(uc.Logger).Warn("restore failed",
				slog.String("hash", rec.Hash.String()),
				slog.String("error", res.Err.Error()),
			)
			return result
		}
		result.Status = res.Val.(domain.RestoreStatus)
	case <-ctx.Done():
		result.Status = domain.RestoreFailed
		result.Error = ctx.Err().Error()
	}
	return result
}

func (uc *RestoreTorrents) attach(rec domain.RestoreRecord) (domain.RestoreStatus, error) {
	hash := rec.Hash
	logger := loggerOrDefault(uc.Logger)

	if _, ok := uc.Registry.Get(hash); ok {
		return domain.RestoreActive, nil
	}
	if !uc.Registry.BeginRestoring(hash) {
		return domain.RestoreActive, nil
	}
	defer uc.Registry.EndRestoring(hash)

	dir, err := uc.Dirs.Resolve(rec.Directory)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", wrapDisk("create", dir, err)
	}

	base := uc.Progress.Base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, durationOr(uc.AttachTimeout, defaultAttachTimeout))
	defer cancel()

	eng, err := uc.Engines.Ensure(ctx)
	if err != nil {
		return "", wrapEngine(err)
	}

	status := domain.RestoreRestored
	t, held := eng.Lookup(hash)
	if held {
		status = domain.RestoreAdopted
	} else {
		t, err = eng.Attach(ctx, magnet.WithTrackers(magnet.Build(hash, rec.Title)), dir)
		if errors.Is(err, domain.ErrDuplicateAttach) && t != nil {
			status = domain.RestoreAdopted
			err = nil
		}
		if err != nil {
			return "", wrapEngine(err)
		}
	}

	video, ok := domain.PickVideoFile(t.Files())
	if !ok {
		if status == domain.RestoreRestored {
			t.Drop()
		}
		return "", domain.ErrNoVideoFile
	}

	t.Pause()
	t.DeselectAll()

	title := strings.TrimSpace(rec.Title)
	if title == "" {
		title = t.Name()
	}
	entry, err := uc.Registry.MarkActiveStopped(domain.Session{
		Hash:        hash,
		Title:       title,
		DisplayName: t.Name(),
		Directory:   dir,
		VideoFile:   &video,
		State:       domain.StatePaused,
	}, t)
	if errors.Is(err, session.ErrAlreadyActive) {
		// An add registered the hash first; hand the torrent back to it.
		if !uc.Registry.IsStopped(hash) {
			_ = t.SelectFile(video.Index)
			t.Resume()
		}
		return domain.RestoreActive, nil
	}
	if err != nil {
		return "", err
	}
	uc.Progress.Start(entry)
	persistRecord(uc.Repo, logger, uc.Now, hash, title, dir)

	logger.Info("session restored",
		slog.String("hash", hash.String()),
		slog.String("status", string(status)),
		slog.String("dir", dir),
	)
	return status, nil
}
