package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
	"streamgate/internal/services/session"
	"streamgate/internal/services/torrent/magnet"
)

const (
	defaultPreloadBytes        int64 = 5 << 20
	defaultPreloadPollInterval       = 500 * time.Millisecond
	defaultPreloadTimeout            = 2 * time.Minute
	defaultAttachTimeout             = 60 * time.Second
)

// AddTorrent attaches a hash to the engine and registers the session. At
// most one attach per hash runs at a time; concurrent callers share it.
type AddTorrent struct {
	Engines   EngineProvider
	Registry  *session.Registry
	Progress  ProgressPublisher
	Publisher ports.Publisher
	Repo      ports.RestoreRepository
	Dirs      Directories
	Logger    *slog.Logger
	Now       func() time.Time

	PreloadBytes        int64
	PreloadPollInterval time.Duration
	PreloadTimeout      time.Duration
	AttachTimeout       time.Duration

	group singleflight.Group
}

type AddTorrentInput struct {
	Hash       string
	Title      string
	Directory  string
	Subscriber domain.SubscriberID
}

type readyEvent struct {
	Hash           domain.ContentHash `json:"hash"`
	Title          string             `json:"title"`
	File           domain.FileRef     `json:"file"`
	PreloadedBytes int64              `json:"preloadedBytes"`
	Completed      bool               `json:"completed"`
}

type preloadTimeoutEvent struct {
	Hash           domain.ContentHash `json:"hash"`
	PreloadedBytes int64              `json:"preloadedBytes"`
	TargetBytes    int64              `json:"targetBytes"`
}

func (uc *AddTorrent) Execute(ctx context.Context, input AddTorrentInput) (session.Entry, error) {
	hash := domain.NormalizeHash(input.Hash)
	if !hash.Valid() {
		return session.Entry{}, domain.ErrInvalidHash
	}
	dir, err := uc.Dirs.Resolve(input.Directory)
	if err != nil {
		return session.Entry{}, err
	}
	title := strings.TrimSpace(input.Title)

	if entry, ok := uc.Registry.Get(hash); ok {
		return uc.reenter(entry, input.Subscriber), nil
	}

	ch := uc.group.DoChan(string(hash), func() (any, error) {
		return uc.attach(hash, title, dir, input.Subscriber)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return session.Entry{}, res.Err
		}
		entry := res.Val.(session.Entry)
		if res.Shared && input.Subscriber != "" && input.Subscriber != entry.Session.Subscriber {
			uc.Registry.SetSubscriber(hash, input.Subscriber)
			entry.Session.Subscriber = input.Subscriber
		}
		return entry, nil
	case <-ctx.Done():
		return session.Entry{}, ctx.Err()
	}
}

func (uc *AddTorrent) attach(hash domain.ContentHash, title, dir string, sub domain.SubscriberID) (session.Entry, error) {
	logger := loggerOrDefault(uc.Logger)

	if entry, ok := uc.Registry.Get(hash); ok {
		return uc.reenter(entry, sub), nil
	}
	if !uc.Registry.BeginAdding(hash) {
		return session.Entry{}, fmt.Errorf("%w: attach already in progress for %s", domain.ErrEngineAttach, hash)
	}
	defer uc.Registry.EndAdding(hash)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return session.Entry{}, wrapDisk("create", dir, err)
	}

	base := uc.Progress.Base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, durationOr(uc.AttachTimeout, defaultAttachTimeout))
	defer cancel()

	eng, err := uc.Engines.Ensure(ctx)
	if err != nil {
		metrics.AttachTotal.WithLabelValues("error").Inc()
		return session.Entry{}, wrapEngine(err)
	}

	started := time.Now()
	uri := magnet.WithTrackers(magnet.Build(hash, title))
	t, err := eng.Attach(ctx, uri, dir)
	adopted := false
	if errors.Is(err, domain.ErrDuplicateAttach) && t != nil {
		adopted = true
		err = nil
	}
	if err != nil {
		metrics.AttachTotal.WithLabelValues("error").Inc()
		logger.Warn("attach failed",
			slog.String("hash", hash.String()),
			slog.String("error", err.Error()),
		)
		return session.Entry{}, wrapEngine(err)
	}
	metrics.AttachDuration.Observe(time.Since(started).Seconds())

	video, ok := domain.PickVideoFile(t.Files())
	if !ok {
		metrics.AttachTotal.WithLabelValues("no_video").Inc()
		if !adopted {
			t.Drop()
		}
		return session.Entry{}, domain.ErrNoVideoFile
	}
	if err := t.SelectFile(video.Index); err != nil {
		if !adopted {
			t.Drop()
		}
		return session.Entry{}, wrapEngine(err)
	}
	target := uc.preloadTarget(video)
	if target > 0 {
		if err := t.Prioritize(video.Index, domain.Range{Off: 0, Length: target}, domain.PriorityHigh); err != nil {
			logger.Debug("preload priority failed",
				slog.String("hash", hash.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	t.Resume()

	if title == "" {
		title = t.Name()
	}
	entry, err := uc.Registry.MarkActive(domain.Session{
		Hash:        hash,
		Title:       title,
		DisplayName: t.Name(),
		Directory:   dir,
		VideoFile:   &video,
		State:       domain.StateAdding,
		Subscriber:  sub,
	}, t)
	if errors.Is(err, session.ErrAlreadyActive) {
		return uc.reenter(entry, sub), nil
	}
	if err != nil {
		return session.Entry{}, err
	}
	uc.Registry.ClearStopped(hash)

	if adopted {
		metrics.AttachTotal.WithLabelValues("duplicate").Inc()
	} else {
		metrics.AttachTotal.WithLabelValues("ok").Inc()
	}
	logger.Info("session attached",
		slog.String("hash", hash.String()),
		slog.String("file", video.Path),
		slog.Int64("size", video.Length),
		slog.Bool("adopted", adopted),
	)

	taskCtx := uc.Progress.Start(entry)
	go uc.preload(taskCtx, entry, target)
	persistRecord(uc.Repo, logger, uc.Now, hash, title, dir)
	return entry, nil
}

// reenter refreshes an existing session for a repeated add. It never touches
// the engine attach path. A session held paused by a pause or by another
// stream is picked again: stopped is cleared and the download resumes.
func (uc *AddTorrent) reenter(entry session.Entry, sub domain.SubscriberID) session.Entry {
	hash := entry.Session.Hash
	logger := loggerOrDefault(uc.Logger)
	uc.Registry.SetSubscriber(hash, sub)
	if sub != "" {
		entry.Session.Subscriber = sub
	}
	if entry.Session.VideoFile != nil && entry.Torrent != nil && !entry.Session.Completed() {
		uc.Registry.ClearStopped(hash)
		if err := entry.Torrent.SelectFile(entry.Session.VideoFile.Index); err != nil {
			logger.Debug("reselect on repeated add failed",
				slog.String("hash", hash.String()),
				slog.String("error", err.Error()),
			)
		}
		if entry.Torrent.Paused() {
			entry.Torrent.Resume()
		}
		if entry.Session.State == domain.StatePaused {
			if err := uc.Registry.SetState(hash, domain.StateActive); err == nil {
				entry.Session.State = domain.StateActive
			}
		}
	}
	if entry.Session.VideoFile != nil {
		var preloaded int64
		if entry.Torrent != nil {
			preloaded = entry.Torrent.FileBytesCompleted(entry.Session.VideoFile.Index)
		}
		uc.publish(entry.Session.Subscriber, ports.EventReady, readyEvent{
			Hash:           hash,
			Title:          entry.Session.Title,
			File:           *entry.Session.VideoFile,
			PreloadedBytes: preloaded,
			Completed:      entry.Session.Completed(),
		})
	}
	return entry
}

// preload waits for the head of the video file and announces readiness.
func (uc *AddTorrent) preload(ctx context.Context, entry session.Entry, target int64) {
	hash := entry.Session.Hash
	file := *entry.Session.VideoFile
	t := entry.Torrent
	started := time.Now()

	deadline := time.NewTimer(durationOr(uc.PreloadTimeout, defaultPreloadTimeout))
	defer deadline.Stop()
	ticker := time.NewTicker(durationOr(uc.PreloadPollInterval, defaultPreloadPollInterval))
	defer ticker.Stop()

	for {
		done := t.FileBytesCompleted(file.Index)
		if done >= target {
			metrics.PreloadDuration.Observe(time.Since(started).Seconds())
			uc.publish(uc.Registry.Subscriber(hash), ports.EventReady, readyEvent{
				Hash:           hash,
				Title:          entry.Session.Title,
				File:           file,
				PreloadedBytes: done,
				Completed:      file.Length > 0 && done >= file.Length,
			})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			metrics.PreloadTimeoutsTotal.Inc()
			loggerOrDefault(uc.Logger).Warn("preload timed out",
				slog.String("hash", hash.String()),
				slog.Int64("preloaded", done),
				slog.Int64("target", target),
			)
			uc.publish(uc.Registry.Subscriber(hash), ports.EventPreloadTimeout, preloadTimeoutEvent{
				Hash:           hash,
				PreloadedBytes: done,
				TargetBytes:    target,
			})
			return
		case <-ticker.C:
		}
	}
}

func (uc *AddTorrent) preloadTarget(file domain.FileRef) int64 {
	target := uc.PreloadBytes
	if target <= 0 {
		target = defaultPreloadBytes
	}
	if file.Length > 0 && target > file.Length {
		target = file.Length
	}
	return target
}

func (uc *AddTorrent) publish(sub domain.SubscriberID, msgType string, data any) {
	if uc.Publisher == nil || sub == "" {
		return
	}
	uc.Publisher.Publish(sub, msgType, data)
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
