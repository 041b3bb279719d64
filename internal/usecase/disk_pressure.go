package usecase

import (
	"context"
	"log/slog"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
	"streamgate/internal/services/session"
)

// DiskPressure periodically checks free space on the data directory and
// pauses every downloading session when it drops below MinFreeBytes. The
// sessions it paused are resumed once free space exceeds ResumeBytes.
type DiskPressure struct {
	Registry     *session.Registry
	Pause        PauseTorrent
	Resume       ResumeTorrent
	Logger       *slog.Logger
	DataDir      string
	MinFreeBytes int64 // threshold below which downloads are paused
	ResumeBytes  int64 // threshold above which downloads may resume
	Interval     time.Duration

	// FreeBytes overrides the filesystem probe.
	FreeBytes func(path string) (int64, error)
}

// Run blocks until ctx is cancelled. A zero MinFreeBytes disables the guard.
func (dp DiskPressure) Run(ctx context.Context) {
	if dp.MinFreeBytes <= 0 {
		return
	}
	interval := dp.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if dp.ResumeBytes <= dp.MinFreeBytes {
		dp.ResumeBytes = dp.MinFreeBytes * 2
	}

	stoppedByPressure := make(map[domain.ContentHash]struct{})
	paused := false

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			paused = dp.check(ctx, paused, stoppedByPressure)
		}
	}
}

func (dp DiskPressure) check(ctx context.Context, paused bool, stopped map[domain.ContentHash]struct{}) bool {
	logger := loggerOrDefault(dp.Logger)
	probe := dp.FreeBytes
	if probe == nil {
		probe = diskFreeBytes
	}
	free, err := probe(dp.DataDir)
	if err != nil {
		logger.Warn("disk_pressure: failed to check disk space",
			slog.String("path", dp.DataDir),
			slog.String("error", err.Error()),
		)
		return paused
	}
	metrics.DiskFreeBytes.Set(float64(free))

	switch {
	case !paused && free < dp.MinFreeBytes:
		logger.Warn("disk_pressure: low disk space, pausing downloads",
			slog.Int64("freeBytes", free),
			slog.Int64("thresholdBytes", dp.MinFreeBytes),
		)
		dp.pauseDownloads(ctx, stopped)
		return true
	case paused && free >= dp.ResumeBytes:
		logger.Info("disk_pressure: disk space recovered, resuming downloads",
			slog.Int64("freeBytes", free),
			slog.Int64("resumeBytes", dp.ResumeBytes),
		)
		dp.resumeDownloads(ctx, stopped)
		return false
	}
	return paused
}

// pauseDownloads pauses sessions that are neither completed nor already
// stopped and records them for a later resume.
func (dp DiskPressure) pauseDownloads(ctx context.Context, stopped map[domain.ContentHash]struct{}) {
	logger := loggerOrDefault(dp.Logger)
	for _, entry := range dp.Registry.List() {
		hash := entry.Session.Hash
		if entry.Session.Completed() || dp.Registry.IsStopped(hash) {
			continue
		}
		if _, err := dp.Pause.Execute(ctx, hash.String()); err != nil {
			logger.Warn("disk_pressure: pause session failed",
				slog.String("hash", hash.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		stopped[hash] = struct{}{}
		logger.Info("disk_pressure: paused session", slog.String("hash", hash.String()))
	}
}

// resumeDownloads resumes the sessions this guard paused that are still
// registered.
func (dp DiskPressure) resumeDownloads(ctx context.Context, stopped map[domain.ContentHash]struct{}) {
	logger := loggerOrDefault(dp.Logger)
	for hash := range stopped {
		delete(stopped, hash)
		if _, ok := dp.Registry.Get(hash); !ok {
			continue
		}
		if _, err := dp.Resume.Execute(ctx, hash.String()); err != nil {
			logger.Warn("disk_pressure: resume session failed",
				slog.String("hash", hash.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("disk_pressure: resumed session", slog.String("hash", hash.String()))
	}
}
