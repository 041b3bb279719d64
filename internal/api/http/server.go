package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/services/session"
	"streamgate/internal/usecase"
)

type AddTorrentUseCase interface {
	Execute(ctx context.Context, input usecase.AddTorrentInput) (session.Entry, error)
}

type StreamTorrentUseCase interface {
	Execute(ctx context.Context, input usecase.StreamInput) (usecase.StreamResult, error)
}

// SessionControlUseCase is satisfied by both pause and resume.
type SessionControlUseCase interface {
	Execute(ctx context.Context, hash string) (session.Entry, error)
}

type DeleteTorrentUseCase interface {
	Execute(ctx context.Context, hash, directory string) error
}

type RestoreTorrentsUseCase interface {
	Execute(ctx context.Context, records []domain.RestoreRecord) []domain.RestoreResult
	FromRepository(ctx context.Context) ([]domain.RestoreResult, error)
}

type SessionReader interface {
	Get(hash domain.ContentHash) (session.Entry, bool)
	List() []session.Entry
	IsStopped(hash domain.ContentHash) bool
	Stats() session.Stats
}

const (
	defaultRateLimitRPS   = 100
	defaultRateLimitBurst = 200
)

type Server struct {
	addTorrent     AddTorrentUseCase
	streamTorrent  StreamTorrentUseCase
	pauseTorrent   SessionControlUseCase
	resumeTorrent  SessionControlUseCase
	deleteTorrent  DeleteTorrentUseCase
	restore        RestoreTorrentsUseCase
	sessions       SessionReader
	snapshots      ports.SnapshotCache
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	hub            *Hub
	ownsHub        bool
	upgrader       *websocket.Upgrader
}

type ServerOption func(*Server)

func WithStreamTorrent(uc StreamTorrentUseCase) ServerOption {
	return func(s *Server) {
		s.streamTorrent = uc
	}
}

func WithPauseTorrent(uc SessionControlUseCase) ServerOption {
	return func(s *Server) {
		s.pauseTorrent = uc
	}
}

func WithResumeTorrent(uc SessionControlUseCase) ServerOption {
	return func(s *Server) {
		s.resumeTorrent = uc
	}
}

func WithDeleteTorrent(uc DeleteTorrentUseCase) ServerOption {
	return func(s *Server) {
		s.deleteTorrent = uc
	}
}

func WithRestoreTorrents(uc RestoreTorrentsUseCase) ServerOption {
	return func(s *Server) {
		s.restore = uc
	}
}

func WithSessions(reader SessionReader) ServerOption {
	return func(s *Server) {
		s.sessions = reader
	}
}

func WithSnapshotCache(cache ports.SnapshotCache) ServerOption {
	return func(s *Server) {
		s.snapshots = cache
	}
}

// WithHub shares a hub created by the caller, typically because the use
// cases publish into it. The caller runs and closes it.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) {
		s.hub = hub
	}
}

func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(add AddTorrentUseCase, opts ...ServerOption) *Server {
	s := &Server{
		addTorrent: add,
		rateRPS:    defaultRateLimitRPS,
		rateBurst:  defaultRateLimitBurst,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.hub == nil {
		s.hub = NewHub(s.logger)
		s.ownsHub = true
		go s.hub.Run()
	}
	s.upgrader = newUpgrader(normalizeOrigins(s.allowedOrigins))

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/", s.handleTorrentByHash)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "streamgate",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != healthPath
		}),
	)
	s.handler = recoveryMiddleware(s.logger,
		rateLimitMiddleware(s.rateRPS, s.rateBurst,
			metricsMiddleware(
				corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.hub.ServeWS(w, r, s.upgrader)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.sessions != nil {
		resp["sessions"] = s.sessions.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Close disconnects all push clients when the server created its own hub.
func (s *Server) Close() {
	if s.ownsHub && s.hub != nil {
		s.hub.Close()
	}
}
