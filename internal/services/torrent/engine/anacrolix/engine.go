package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

// defaultMaxConns is the value restored when resuming a hard-paused torrent.
const defaultMaxConns = 35

// addTorrentTimeout caps the time we wait for the client to accept a magnet.
// AddTorrentSpec can block on the client mutex while it is busy.
const addTorrentTimeout = 10 * time.Second

var errClientClosed = errors.New("torrent client closed unexpectedly")

type Config struct {
	// DataDir holds client-level state. Torrent payloads go to the
	// directory passed to Attach.
	DataDir          string
	ProgressInterval time.Duration
	Logger           *slog.Logger
}

type Engine struct {
	client           *torrent.Client
	mu               sync.RWMutex
	torrents         map[domain.ContentHash]*Torrent
	progressInterval time.Duration
	logger           *slog.Logger
	fatal            chan error
	closing          atomic.Bool
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	e := newEngine(client, cfg)
	go e.watchClient()
	return e, nil
}

func newEngine(client *torrent.Client, cfg Config) *Engine {
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:           client,
		torrents:         make(map[domain.ContentHash]*Torrent),
		progressInterval: interval,
		logger:           logger,
		fatal:            make(chan error, 1),
	}
}

// watchClient reports a client shutdown that was not requested through Close.
func (e *Engine) watchClient() {
	<-e.client.Closed()
	if e.closing.Load() {
		return
	}
	select {
	case e.fatal <- errClientClosed:
	default:
	}
}

func (e *Engine) Fatal() <-chan error {
	return e.fatal
}

func (e *Engine) Attach(ctx context.Context, magnet, directory string) (ports.Torrent, error) {
	spec, err := torrent.TorrentSpecFromMagnetUri(magnet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineAttach, err)
	}
	if e.client == nil {
		return nil, fmt.Errorf("%w: torrent client not configured", domain.ErrEngineAttach)
	}

	hash := domain.ContentHash(spec.InfoHash.HexString())
	if existing, ok := e.Lookup(hash); ok {
		return existing, domain.ErrDuplicateAttach
	}

	spec.Storage = storage.NewFile(directory)

	type addResult struct {
		t     *torrent.Torrent
		isNew bool
		err   error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, isNew, err := e.client.AddTorrentSpec(spec)
		ch <- addResult{t, isNew, err}
	}()
	// The add may still complete after we stop waiting; drop its torrent.
	dropLate := func() {
		if res := <-ch; res.t != nil && res.isNew {
			res.t.Drop()
		}
	}

	var (
		t     *torrent.Torrent
		isNew bool
	)
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEngineAttach, res.err)
		}
		t, isNew = res.t, res.isNew
	case <-time.After(addTorrentTimeout):
		go dropLate()
		return nil, fmt.Errorf("%w: torrent client busy", domain.ErrEngineAttach)
	case <-ctx.Done():
		go dropLate()
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineAttach, ctx.Err())
	}

	if !isNew {
		// The first attach may still be fetching metadata. It owns the
		// torrent, so a give-up here leaves it in place.
		if err := waitInfo(ctx, t.GotInfo(), t.Closed()); err != nil {
			return nil, err
		}
		return e.track(hash, t), domain.ErrDuplicateAttach
	}

	if err := waitInfo(ctx, t.GotInfo(), t.Closed()); err != nil {
		if ctx.Err() != nil {
			t.Drop()
		}
		return nil, err
	}

	// Nothing downloads until a file is selected.
	for _, f := range t.Files() {
		f.SetPriority(torrent.PiecePriorityNone)
	}

	e.logger.Info("torrent attached",
		slog.String("hash", string(hash)),
		slog.String("name", t.Name()),
		slog.String("dir", directory),
	)
	return e.track(hash, t), nil
}

// waitInfo blocks until metadata is parsed, the torrent closes or ctx ends.
func waitInfo(ctx context.Context, gotInfo, closed <-chan struct{}) error {
	select {
	case <-gotInfo:
		return nil
	case <-closed:
		return fmt.Errorf("%w: torrent closed before metadata", domain.ErrEngineAttach)
	case <-ctx.Done():
		return fmt.Errorf("%w: metadata: %v", domain.ErrEngineAttach, ctx.Err())
	}
}

func (e *Engine) track(hash domain.ContentHash, t *torrent.Torrent) *Torrent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.torrents[hash]; ok && existing.t == t {
		return existing
	}
	wrapped := &Torrent{engine: e, t: t, hash: hash}
	e.torrents[hash] = wrapped
	return wrapped
}

func (e *Engine) Lookup(hash domain.ContentHash) (ports.Torrent, bool) {
	e.mu.RLock()
	wrapped := e.torrents[hash]
	e.mu.RUnlock()
	if wrapped == nil {
		return nil, false
	}
	if wrapped.t != nil {
		select {
		case <-wrapped.t.Closed():
			e.forget(hash, wrapped)
			return nil, false
		default:
		}
	}
	return wrapped, true
}

func (e *Engine) forget(hash domain.ContentHash, wrapped *Torrent) {
	e.mu.Lock()
	if e.torrents[hash] == wrapped {
		delete(e.torrents, hash)
	}
	e.mu.Unlock()
}

func (e *Engine) Close() error {
	e.closing.Store(true)
	if e.client == nil {
		return nil
	}
	return errors.Join(e.client.Close()...)
}

// freeOSMemory returns freed memory to the OS after a torrent is dropped.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
