package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/services/session"
)

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ---------- stream reader ----------

type fakeStreamReader struct {
	mu         sync.Mutex
	ctx        context.Context
	readahead  int64
	responsive bool
	pos        int64
	closed     bool
}

func (f *fakeStreamReader) SetContext(ctx context.Context) { f.mu.Lock(); f.ctx = ctx; f.mu.Unlock() }
func (f *fakeStreamReader) SetReadahead(n int64)           { f.mu.Lock(); f.readahead = n; f.mu.Unlock() }
func (f *fakeStreamReader) SetResponsive()                 { f.mu.Lock(); f.responsive = true; f.mu.Unlock() }
func (f *fakeStreamReader) Read(p []byte) (int, error)     { return 0, io.EOF }
func (f *fakeStreamReader) Seek(off int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case io.SeekStart:
		f.pos = off
	case io.SeekCurrent:
		f.pos += off
	default:
		return 0, errors.New("invalid whence")
	}
	return f.pos, nil
}
func (f *fakeStreamReader) Close() error { f.mu.Lock(); f.closed = true; f.mu.Unlock(); return nil }

// ---------- torrent ----------

type fakeTorrent struct {
	mu          sync.Mutex
	hash        domain.ContentHash
	name        string
	files       []domain.FileRef
	paused      bool
	ignorePause int
	selected    map[int]bool
	completed   map[int]int64
	prioritized []domain.Range
	prioErr     error
	reader      *fakeStreamReader
	readerErr   error
	events      chan ports.TorrentEvent

	calls       int
	pauseCalls  int
	resumeCalls int
	dropCalls   int
}

func newFakeTorrent(hash domain.ContentHash) *fakeTorrent {
	return &fakeTorrent{
		hash: hash,
		name: "Sample Movie",
		files: []domain.FileRef{
			{Index: 0, Path: "Sample Movie/readme.txt", Length: 100},
			{Index: 1, Path: "Sample Movie/film.mkv", Length: 50 << 20},
		},
		selected:  make(map[int]bool),
		completed: make(map[int]int64),
		reader:    &fakeStreamReader{},
	}
}

func (f *fakeTorrent) touch() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeTorrent) Hash() domain.ContentHash { return f.hash }
func (f *fakeTorrent) Name() string             { return f.name }
func (f *fakeTorrent) Files() []domain.FileRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FileRef(nil), f.files...)
}
func (f *fakeTorrent) SelectFile(index int) error {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected[index] = true
	return nil
}
func (f *fakeTorrent) DeselectFile(index int) error {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.selected, index)
	return nil
}
func (f *fakeTorrent) DeselectAll() {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = make(map[int]bool)
}
func (f *fakeTorrent) Prioritize(index int, r domain.Range, prio domain.Priority) error {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prioErr != nil {
		return f.prioErr
	}
	f.prioritized = append(f.prioritized, r)
	return nil
}
func (f *fakeTorrent) Pause() {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	if f.ignorePause > 0 {
		f.ignorePause--
		return
	}
	f.paused = true
}
func (f *fakeTorrent) Resume() {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
	f.paused = false
}
func (f *fakeTorrent) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}
func (f *fakeTorrent) FileBytesCompleted(index int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[index]
}
func (f *fakeTorrent) NewReader(index int) (ports.StreamReader, error) {
	f.touch()
	if f.readerErr != nil {
		return nil, f.readerErr
	}
	return f.reader, nil
}
func (f *fakeTorrent) Events(ctx context.Context, index int) <-chan ports.TorrentEvent {
	f.mu.Lock()
	ch := f.events
	f.mu.Unlock()
	if ch != nil {
		return ch
	}
	out := make(chan ports.TorrentEvent)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}
func (f *fakeTorrent) Drop() {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropCalls++
}

func (f *fakeTorrent) setCompleted(index int, n int64) {
	f.mu.Lock()
	f.completed[index] = n
	f.mu.Unlock()
}

func (f *fakeTorrent) isSelected(index int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected[index]
}

func (f *fakeTorrent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---------- engine ----------

type fakeEngine struct {
	mu          sync.Mutex
	torrents    map[domain.ContentHash]*fakeTorrent
	attachErr   error
	attachCalls int
	gate        chan struct{}
	newTorrent  func(domain.ContentHash) *fakeTorrent
	lastDir     string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{torrents: make(map[domain.ContentHash]*fakeTorrent)}
}

func (e *fakeEngine) Attach(ctx context.Context, uri, directory string) (ports.Torrent, error) {
	e.mu.Lock()
	e.attachCalls++
	e.lastDir = directory
	gate := e.gate
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.attachErr != nil {
		return nil, e.attachErr
	}
	hash := hashFromMagnet(uri)

	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.torrents[hash]; ok {
		return t, domain.ErrDuplicateAttach
	}
	var t *fakeTorrent
	if e.newTorrent != nil {
		t = e.newTorrent(hash)
	} else {
		t = newFakeTorrent(hash)
	}
	e.torrents[hash] = t
	return t, nil
}

func (e *fakeEngine) Lookup(hash domain.ContentHash) (ports.Torrent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.torrents[hash]
	if !ok {
		return nil, false
	}
	return t, true
}

func (e *fakeEngine) Fatal() <-chan error { return nil }
func (e *fakeEngine) Close() error        { return nil }

func (e *fakeEngine) put(t *fakeTorrent) {
	e.mu.Lock()
	e.torrents[t.hash] = t
	e.mu.Unlock()
}

func (e *fakeEngine) torrent(hash string) *fakeTorrent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.torrents[domain.ContentHash(hash)]
}

func (e *fakeEngine) attaches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attachCalls
}

func hashFromMagnet(uri string) domain.ContentHash {
	_, rest, _ := strings.Cut(uri, "urn:btih:")
	hash, _, _ := strings.Cut(rest, "&")
	return domain.ContentHash(hash)
}

type fakeProvider struct {
	engine    *fakeEngine
	ensureErr error
}

func (p *fakeProvider) Ensure(ctx context.Context) (ports.Engine, error) {
	if p.ensureErr != nil {
		return nil, p.ensureErr
	}
	return p.engine, nil
}

func (p *fakeProvider) Current() (ports.Engine, bool) {
	if p.engine == nil {
		return nil, false
	}
	return p.engine, true
}

// ---------- repository / cache ----------

type fakeRepo struct {
	mu        sync.Mutex
	records   map[domain.ContentHash]domain.RestoreRecord
	upserts   int
	completed []domain.ContentHash
	deleted   []domain.ContentHash
	listErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[domain.ContentHash]domain.RestoreRecord)}
}

func (r *fakeRepo) Upsert(ctx context.Context, rec domain.RestoreRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if existing, ok := r.records[rec.Hash]; ok {
		rec.IsCompleted = existing.IsCompleted
	}
	r.records[rec.Hash] = rec
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, hash domain.ContentHash) (domain.RestoreRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[hash]
	if !ok {
		return domain.RestoreRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) List(ctx context.Context) ([]domain.RestoreRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.RestoreRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *fakeRepo) MarkCompleted(ctx context.Context, hash domain.ContentHash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, hash)
	if rec, ok := r.records[hash]; ok {
		rec.IsCompleted = true
		r.records[hash] = rec
	}
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, hash domain.ContentHash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, hash)
	if _, ok := r.records[hash]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, hash)
	return nil
}

func (r *fakeRepo) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts
}

type fakeCache struct {
	mu    sync.Mutex
	snaps map[domain.ContentHash]domain.ProgressSnapshot
}

func newFakeCache() *fakeCache {
	return &fakeCache{snaps: make(map[domain.ContentHash]domain.ProgressSnapshot)}
}

func (c *fakeCache) Put(ctx context.Context, snap domain.ProgressSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.Hash] = snap
	return nil
}

func (c *fakeCache) Get(ctx context.Context, hash domain.ContentHash) (domain.ProgressSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[hash]
	return snap, ok, nil
}

func (c *fakeCache) Delete(ctx context.Context, hash domain.ContentHash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, hash)
	return nil
}

// ---------- publisher ----------

type published struct {
	Subscriber domain.SubscriberID
	Type       string
	Data       any
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *fakePublisher) Publish(sub domain.SubscriberID, msgType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{Subscriber: sub, Type: msgType, Data: data})
}

func (p *fakePublisher) ofType(msgType string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// waitFor polls until a message of msgType arrives or the timeout passes.
func (p *fakePublisher) waitFor(t *testing.T, msgType string, timeout time.Duration) published {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msgs := p.ofType(msgType); len(msgs) > 0 {
			return msgs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q message within %s", msgType, timeout)
	return published{}
}

// ---------- harness ----------

type harness struct {
	engine    *fakeEngine
	provider  *fakeProvider
	registry  *session.Registry
	publisher *fakePublisher
	repo      *fakeRepo
	cache     *fakeCache
	progress  ProgressPublisher
	dirs      Directories
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	engine := newFakeEngine()
	h := &harness{
		engine:    engine,
		provider:  &fakeProvider{engine: engine},
		registry:  session.NewRegistry(),
		publisher: &fakePublisher{},
		repo:      newFakeRepo(),
		cache:     newFakeCache(),
		dirs:      Directories{Root: t.TempDir()},
	}
	h.progress = ProgressPublisher{
		Registry:  h.registry,
		Publisher: h.publisher,
		Cache:     h.cache,
		Repo:      h.repo,
		Logger:    discardLogger(),
		Base:      ctx,
	}
	return h
}

func (h *harness) addTorrent() *AddTorrent {
	return &AddTorrent{
		Engines:             h.provider,
		Registry:            h.registry,
		Progress:            h.progress,
		Publisher:           h.publisher,
		Repo:                h.repo,
		Dirs:                h.dirs,
		Logger:              discardLogger(),
		PreloadPollInterval: 5 * time.Millisecond,
		PreloadTimeout:      time.Second,
	}
}

func (h *harness) exclusivity() Exclusivity {
	return Exclusivity{Registry: h.registry, Publisher: h.publisher, Logger: discardLogger()}
}

func (h *harness) pause() PauseTorrent {
	return PauseTorrent{Engines: h.provider, Registry: h.registry, Progress: h.progress, Logger: discardLogger()}
}

func (h *harness) resume() ResumeTorrent {
	return ResumeTorrent{Engines: h.provider, Registry: h.registry, Progress: h.progress, Logger: discardLogger()}
}

func (h *harness) stream() StreamTorrent {
	return StreamTorrent{
		Engines:      h.provider,
		Registry:     h.registry,
		Exclusive:    h.exclusivity(),
		Progress:     h.progress,
		Repo:         h.repo,
		Dirs:         h.dirs,
		Logger:       discardLogger(),
		RegistryWait: 200 * time.Millisecond,
		RegistryPoll: 5 * time.Millisecond,
	}
}

func (h *harness) restore() *RestoreTorrents {
	return &RestoreTorrents{
		Engines:  h.provider,
		Registry: h.registry,
		Progress: h.progress,
		Repo:     h.repo,
		Dirs:     h.dirs,
		Logger:   discardLogger(),
	}
}

// register puts an active session for hash straight into the registry.
func (h *harness) register(t *testing.T, hash string, state domain.SessionState) *fakeTorrent {
	t.Helper()
	ft := newFakeTorrent(domain.ContentHash(hash))
	h.engine.put(ft)
	video := ft.files[1]
	_, err := h.registry.MarkActive(domain.Session{
		Hash:      domain.ContentHash(hash),
		Title:     "Sample Movie",
		Directory: h.dirs.Root,
		VideoFile: &video,
		State:     state,
	}, ft)
	if err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	return ft
}
