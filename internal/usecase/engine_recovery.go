package usecase

import (
	"context"
	"log/slog"

	"streamgate/internal/domain"
	"streamgate/internal/services/session"
)

// EngineRecovery rebuilds the registry after the engine was discarded. The
// old entries hold torrents of a closed client, so they are purged and
// re-attached through the restore pass on a fresh engine.
type EngineRecovery struct {
	Registry *session.Registry
	Restore  *RestoreTorrents
	Logger   *slog.Logger
}

func (uc EngineRecovery) Recover(ctx context.Context) []domain.RestoreResult {
	logger := loggerOrDefault(uc.Logger)
	purged := uc.Registry.Purge()
	logger.Warn("engine discarded, sessions purged", slog.Int("sessions", len(purged)))
	if uc.Restore == nil || len(purged) == 0 {
		return nil
	}

	records := make([]domain.RestoreRecord, 0, len(purged))
	for _, entry := range purged {
		records = append(records, domain.RestoreRecord{
			Hash:        entry.Session.Hash,
			Title:       entry.Session.Title,
			Directory:   entry.Session.Directory,
			IsCompleted: entry.Session.Completed(),
		})
	}
	results := uc.Restore.Execute(ctx, records)
	for _, res := range results {
		if res.Status == domain.RestoreFailed {
			logger.Warn("session not recovered",
				slog.String("hash", res.Hash.String()),
				slog.String("error", res.Error),
			)
		}
	}
	return results
}
