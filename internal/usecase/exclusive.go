package usecase

import (
	"log/slog"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/services/session"
)

// Exclusivity keeps a single session downloading at a time.
type Exclusivity struct {
	Registry  *session.Registry
	Publisher ports.Publisher
	Logger    *slog.Logger
}

type pausedEvent struct {
	Hash   domain.ContentHash `json:"hash"`
	Reason string             `json:"reason"`
}

// Enforce pauses every session other than hash and marks it stopped. It
// returns the hashes that were downloading before the call.
func (uc Exclusivity) Enforce(hash domain.ContentHash) []domain.ContentHash {
	var paused []domain.ContentHash
	for _, other := range uc.Registry.Others(hash) {
		t := other.Torrent
		if t == nil {
			continue
		}
		id := other.Session.Hash
		wasPaused := t.Paused()
		if !wasPaused {
			t.Pause()
		}
		t.DeselectAll()
		uc.Registry.MarkStopped(id)
		if other.Session.State == domain.StateActive {
			_ = uc.Registry.SetState(id, domain.StatePaused)
		}
		if wasPaused {
			continue
		}
		paused = append(paused, id)
		loggerOrDefault(uc.Logger).Info("paused session for exclusive stream",
			slog.String("hash", id.String()),
			slog.String("focus", hash.String()),
		)
		if uc.Publisher != nil && other.Session.Subscriber != "" {
			uc.Publisher.Publish(other.Session.Subscriber, ports.EventPaused, pausedEvent{Hash: id, Reason: "exclusive"})
		}
	}
	return paused
}
