package usecase

import (
	"context"
	"log/slog"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
	"streamgate/internal/services/session"
)

const cacheWriteTimeout = 2 * time.Second

// ProgressPublisher turns engine events into snapshots and push messages for
// one session at a time. A stopped session found downloading is paused again
// before anything is published.
type ProgressPublisher struct {
	Registry  *session.Registry
	Publisher ports.Publisher
	Cache     ports.SnapshotCache
	Repo      ports.RestoreRepository
	Logger    *slog.Logger
	Now       func() time.Time

	// Base bounds every progress task; cancelling it stops them all.
	Base context.Context
}

type progressEvent struct {
	domain.ProgressSnapshot
	Title string `json:"title,omitempty"`
}

// Start launches the progress task of entry and returns the task context.
// The context ends when the session is removed or restarted.
func (p ProgressPublisher) Start(entry session.Entry) context.Context {
	base := p.Base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	if entry.Torrent == nil || entry.Session.VideoFile == nil {
		cancel()
		return ctx
	}
	if !p.Registry.SetProgressCancel(entry.Session.Hash, cancel) {
		return ctx
	}
	go p.Run(ctx, entry.Session.Hash, entry.Torrent, entry.Session.VideoFile.Index)
	return ctx
}

// Run consumes the event stream of one file until it completes or ctx ends.
func (p ProgressPublisher) Run(ctx context.Context, hash domain.ContentHash, t ports.Torrent, index int) {
	var sampler speedSampler
	for ev := range t.Events(ctx, index) {
		if p.handle(ctx, hash, t, ev, &sampler) {
			return
		}
	}
}

func (p ProgressPublisher) handle(ctx context.Context, hash domain.ContentHash, t ports.Torrent, ev ports.TorrentEvent, sampler *speedSampler) bool {
	logger := p.logger()
	now := p.now()

	paused := ev.Paused || t.Paused()
	if p.Registry.IsStopped(hash) && !paused {
		t.Pause()
		paused = true
		metrics.AutoResumeSuppressedTotal.Inc()
		logger.Warn("stopped session resumed downloading, pausing again",
			slog.String("hash", hash.String()),
		)
	}

	speed := sampler.sample(ev.BytesReadUsefulData, now)
	if paused {
		speed = 0
	}
	done := ev.Kind == ports.EventDone
	snap := domain.ProgressSnapshot{
		Hash:             hash,
		Progress:         domain.ProgressFraction(ev.FileBytesCompleted, ev.FileLength),
		DownloadedBytes:  ev.FileBytesCompleted,
		TotalBytes:       ev.FileLength,
		SpeedBytesPerSec: speed,
		Peers:            ev.Peers,
		EtaMs:            domain.EstimateEtaMs(ev.FileBytesCompleted, ev.FileLength, speed),
		IsPaused:         paused,
		IsDone:           done,
		At:               now,
	}
	p.Registry.SetSnapshot(hash, snap)
	p.cache(ctx, snap)

	entry, ok := p.Registry.Get(hash)
	if !ok {
		return true
	}
	payload := progressEvent{ProgressSnapshot: snap, Title: entry.Session.Title}

	if !done {
		p.publish(entry.Session.Subscriber, ports.EventProgressUpdate, payload)
		return false
	}

	if err := p.Registry.SetState(hash, domain.StateCompleted); err != nil {
		logger.Warn("mark session completed failed",
			slog.String("hash", hash.String()),
			slog.String("error", err.Error()),
		)
	}
	if p.Repo != nil {
		if err := p.Repo.MarkCompleted(ctx, hash); err != nil {
			logger.Warn("persist completion failed",
				slog.String("hash", hash.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	logger.Info("session completed",
		slog.String("hash", hash.String()),
		slog.Int64("bytes", ev.FileLength),
	)
	p.publish(entry.Session.Subscriber, ports.EventCompleted, payload)
	return true
}

func (p ProgressPublisher) cache(ctx context.Context, snap domain.ProgressSnapshot) {
	if p.Cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
	defer cancel()
	if err := p.Cache.Put(cctx, snap); err != nil {
		p.logger().Debug("snapshot cache write failed",
			slog.String("hash", snap.Hash.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p ProgressPublisher) publish(sub domain.SubscriberID, msgType string, data any) {
	if p.Publisher == nil || sub == "" {
		return
	}
	p.Publisher.Publish(sub, msgType, data)
}

func (p ProgressPublisher) logger() *slog.Logger {
	return loggerOrDefault(p.Logger)
}

func (p ProgressPublisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// speedSampler derives a download rate from successive useful-byte counters.
type speedSampler struct {
	at    time.Time
	bytes int64
	rate  int64
}

func (s *speedSampler) sample(bytes int64, now time.Time) int64 {
	if s.at.IsZero() {
		s.at, s.bytes = now, bytes
		return 0
	}
	elapsed := now.Sub(s.at)
	if elapsed <= 0 {
		return s.rate
	}
	delta := bytes - s.bytes
	if delta < 0 {
		delta = 0
	}
	s.rate = int64(float64(delta) / elapsed.Seconds())
	s.at, s.bytes = now, bytes
	return s.rate
}
