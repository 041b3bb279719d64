package anacrolix

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

// Torrent adapts *torrent.Torrent to ports.Torrent. Session metadata lives in
// the registry, never here.
type Torrent struct {
	engine *Engine
	t      *torrent.Torrent
	hash   domain.ContentHash

	mu     sync.Mutex
	paused bool
}

func (w *Torrent) Hash() domain.ContentHash {
	return w.hash
}

func (w *Torrent) Name() string {
	if !torrentInfoReady(w.t) {
		return ""
	}
	return w.t.Name()
}

func (w *Torrent) Files() []domain.FileRef {
	return mapFiles(w.t)
}

func (w *Torrent) file(index int) (*torrent.File, error) {
	if !torrentInfoReady(w.t) {
		return nil, domain.ErrNotFound
	}
	files := w.t.Files()
	if index < 0 || index >= len(files) {
		return nil, domain.ErrNotFound
	}
	return files[index], nil
}

func (w *Torrent) SelectFile(index int) error {
	f, err := w.file(index)
	if err != nil {
		return err
	}
	f.SetPriority(torrent.PiecePriorityNormal)
	return nil
}

func (w *Torrent) DeselectFile(index int) error {
	f, err := w.file(index)
	if err != nil {
		return err
	}
	f.SetPriority(torrent.PiecePriorityNone)
	return nil
}

func (w *Torrent) DeselectAll() {
	if !torrentInfoReady(w.t) {
		return
	}
	for _, f := range w.t.Files() {
		f.SetPriority(torrent.PiecePriorityNone)
	}
}

func (w *Torrent) Prioritize(index int, r domain.Range, prio domain.Priority) error {
	f, err := w.file(index)
	if err != nil {
		return err
	}
	applyPiecePriority(w.t, w.hash, f, r, prio)
	return nil
}

// Pause stops all network activity by disallowing data transfer and dropping
// every peer connection.
func (w *Torrent) Pause() {
	if w.t == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t.DisallowDataDownload()
	w.t.DisallowDataUpload()
	w.t.SetMaxEstablishedConns(0)
	w.paused = true
}

// Resume re-enables transfer. Only selected files download.
func (w *Torrent) Resume() {
	if w.t == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t.SetMaxEstablishedConns(defaultMaxConns)
	w.t.AllowDataUpload()
	w.t.AllowDataDownload()
	w.paused = false
}

// Paused reports the transfer state last set through Pause or Resume. The
// client exposes no getter for the allowances and never lifts them on its
// own, and Engine.track keeps one wrapper per torrent, so this flag is the
// authoritative state. Callers re-checking after Pause see true unless a
// concurrent Resume won.
func (w *Torrent) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Torrent) FileBytesCompleted(index int) int64 {
	f, err := w.file(index)
	if err != nil {
		return 0
	}
	return f.BytesCompleted()
}

func (w *Torrent) NewReader(index int) (ports.StreamReader, error) {
	f, err := w.file(index)
	if err != nil {
		return nil, err
	}
	return f.NewReader(), nil
}

func (w *Torrent) Events(ctx context.Context, index int) <-chan ports.TorrentEvent {
	out := make(chan ports.TorrentEvent, 1)
	interval := time.Second
	if w.engine != nil {
		interval = w.engine.progressInterval
	}
	go func() {
		defer close(out)
		if w.t == nil {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.t.Closed():
				return
			case <-ticker.C:
			}
			ev, ok := w.sample(index)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Kind == ports.EventDone {
				return
			}
		}
	}()
	return out
}

func (w *Torrent) sample(index int) (ports.TorrentEvent, bool) {
	f, err := w.file(index)
	if err != nil {
		return ports.TorrentEvent{}, false
	}
	stats := w.t.Stats()
	ev := ports.TorrentEvent{
		Kind:                ports.EventProgress,
		FileBytesCompleted:  f.BytesCompleted(),
		FileLength:          f.Length(),
		BytesReadUsefulData: stats.BytesReadUsefulData.Int64(),
		Peers:               stats.ActivePeers,
		Paused:              w.Paused(),
	}
	if ev.FileLength > 0 && ev.FileBytesCompleted >= ev.FileLength {
		ev.Kind = ports.EventDone
	}
	return ev, true
}

func (w *Torrent) Drop() {
	if w.engine != nil {
		w.engine.forget(w.hash, w)
	}
	if w.t == nil {
		return
	}
	w.t.Drop()
	freeOSMemory()
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileRef) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}
