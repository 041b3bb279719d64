package apihttp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/services/session"
	"streamgate/internal/services/torrent/magnet"
	"streamgate/internal/usecase"
)

const maxRestoreBodyBytes = 1 << 20

type sessionView struct {
	domain.Session
	Stopped  bool                     `json:"stopped"`
	Progress *domain.ProgressSnapshot `json:"progress,omitempty"`
}

type sessionListResponse struct {
	Items []sessionView  `json:"items"`
	Stats *session.Stats `json:"stats,omitempty"`
}

type restoreResponse struct {
	Results []domain.RestoreResult `json:"results"`
}

func (s *Server) viewOf(entry session.Entry) sessionView {
	view := sessionView{Session: entry.Session, Progress: entry.Snapshot}
	if s.sessions != nil {
		view.Stopped = s.sessions.IsStopped(entry.Session.Hash)
	}
	return view
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := sessionListResponse{Items: []sessionView{}}
	if s.sessions != nil {
		for _, entry := range s.sessions.List() {
			resp.Items = append(resp.Items, s.viewOf(entry))
		}
		stats := s.sessions.Stats()
		resp.Stats = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTorrentByHash(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/torrents/restore" {
		s.handleRestore(w, r)
		return
	}

	hash, action, ok := torrentRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	if !magnet.ValidHash(hash) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid torrent hash")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.handleGetTorrent(w, r, hash)
		case http.MethodDelete:
			s.handleDeleteTorrent(w, r, hash)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "add":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleAddTorrent(w, r, hash)
	case "stream":
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStreamTorrent(w, r, hash)
	case "pause", "resume":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		uc := s.pauseTorrent
		if action == "resume" {
			uc = s.resumeTorrent
		}
		s.handleSessionControl(w, r, hash, uc)
	case "state":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleGetState(w, r, hash)
	default:
		writeError(w, http.StatusNotFound, "not_found", "not found")
	}
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request, hash string) {
	if s.addTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "add torrent use case not configured")
		return
	}
	query := r.URL.Query()
	dir := strings.TrimSpace(query.Get("dir"))
	if dir == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "dir is required")
		return
	}

	entry, err := s.addTorrent.Execute(r.Context(), usecase.AddTorrentInput{
		Hash:       hash,
		Title:      query.Get("title"),
		Directory:  dir,
		Subscriber: domain.SubscriberID(strings.TrimSpace(query.Get("subscriber"))),
	})
	if err != nil {
		s.logFailure(r, "add torrent failed", hash, err)
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(entry))
}

func (s *Server) handleSessionControl(w http.ResponseWriter, r *http.Request, hash string, uc SessionControlUseCase) {
	if uc == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session control not configured")
		return
	}
	entry, err := uc.Execute(r.Context(), hash)
	if err != nil {
		s.logFailure(r, "session control failed", hash, err)
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(entry))
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request, hash string) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}
	entry, ok := s.sessions.Get(domain.NormalizeHash(hash))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(entry))
}

func (s *Server) handleDeleteTorrent(w http.ResponseWriter, r *http.Request, hash string) {
	if s.deleteTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "delete torrent use case not configured")
		return
	}
	dir := strings.TrimSpace(r.URL.Query().Get("dir"))
	if dir == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "dir is required")
		return
	}
	if err := s.deleteTorrent.Execute(r.Context(), hash, dir); err != nil {
		s.logFailure(r, "delete torrent failed", hash, err)
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleGetState prefers the registry's in-memory snapshot and falls back to
// the cache, which survives restarts.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request, raw string) {
	hash := domain.NormalizeHash(raw)
	if s.sessions != nil {
		if entry, ok := s.sessions.Get(hash); ok && entry.Snapshot != nil {
			writeJSON(w, http.StatusOK, entry.Snapshot)
			return
		}
	}
	if s.snapshots != nil {
		snap, ok, err := s.snapshots.Get(r.Context(), hash)
		if err != nil {
			s.logger.Warn("snapshot cache read failed",
				slog.String("hash", hash.String()),
				slog.String("error", err.Error()),
			)
		} else if ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "no progress recorded for this torrent")
}

// handleRestore restores the posted records, or every persisted record when
// the body is empty.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.restore == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "restore use case not configured")
		return
	}

	var records []domain.RestoreRecord
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRestoreBodyBytes))
	err := decoder.Decode(&records)
	switch {
	case errors.Is(err, io.EOF):
		results, err := s.restore.FromRepository(r.Context())
		if err != nil {
			s.logFailure(r, "restore from repository failed", "", err)
			writeUseCaseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, restoreResponse{Results: results})
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	start := time.Now()
	results := s.restore.Execute(r.Context(), records)
	s.logger.Info("restore request finished",
		slog.Int("records", len(records)),
		slog.Int64("durationMs", time.Since(start).Milliseconds()),
	)
	writeJSON(w, http.StatusOK, restoreResponse{Results: results})
}

func (s *Server) logFailure(r *http.Request, msg, hash string, err error) {
	level := slog.LevelWarn
	if !isClientError(err) {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, msg,
		slog.String("hash", hash),
		slog.String("error", err.Error()),
	)
}

func isClientError(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidHash,
		domain.ErrInvalidDirectory,
		domain.ErrNotFound,
		domain.ErrNoVideoFile,
		domain.ErrStreamUnavailable,
		domain.ErrPausedConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
