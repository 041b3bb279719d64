// Package session holds the in-memory session registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

var ErrAlreadyActive = errors.New("session already active")

// Entry is a point-in-time copy of a registry record.
type Entry struct {
	Session  domain.Session
	Torrent  ports.Torrent
	Snapshot *domain.ProgressSnapshot
}

type record struct {
	session        domain.Session
	torrent        ports.Torrent
	snapshot       *domain.ProgressSnapshot
	cancelProgress context.CancelFunc
}

type Stats struct {
	Active    int `json:"active"`
	Adding    int `json:"adding"`
	Restoring int `json:"restoring"`
	Stopped   int `json:"stopped"`
}

// Registry tracks sessions by content hash. A hash is in at most one of
// adding and active; stopped is an independent policy flag.
type Registry struct {
	mu        sync.RWMutex
	active    map[domain.ContentHash]*record
	adding    map[domain.ContentHash]struct{}
	restoring map[domain.ContentHash]struct{}
	stopped   map[domain.ContentHash]struct{}
	now       func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		active:    make(map[domain.ContentHash]*record),
		adding:    make(map[domain.ContentHash]struct{}),
		restoring: make(map[domain.ContentHash]struct{}),
		stopped:   make(map[domain.ContentHash]struct{}),
		now:       time.Now,
	}
}

// BeginAdding reserves hash for an attach. It fails when the hash is already
// active or being added.
func (r *Registry) BeginAdding(hash domain.ContentHash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[hash]; ok {
		return false
	}
	if _, ok := r.adding[hash]; ok {
		return false
	}
	r.adding[hash] = struct{}{}
	return true
}

// EndAdding is safe to call on every exit path, including after MarkActive.
func (r *Registry) EndAdding(hash domain.ContentHash) {
	r.mu.Lock()
	delete(r.adding, hash)
	r.mu.Unlock()
}

func (r *Registry) IsAdding(hash domain.ContentHash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adding[hash]
	return ok
}

func (r *Registry) BeginRestoring(hash domain.ContentHash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.restoring[hash]; ok {
		return false
	}
	r.restoring[hash] = struct{}{}
	return true
}

func (r *Registry) EndRestoring(hash domain.ContentHash) {
	r.mu.Lock()
	delete(r.restoring, hash)
	r.mu.Unlock()
}

func (r *Registry) IsRestoring(hash domain.ContentHash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.restoring[hash]
	return ok
}

// MarkActive moves hash out of adding and registers it as active in one step.
// When the hash is already active the existing entry is returned with
// ErrAlreadyActive.
func (r *Registry) MarkActive(sess domain.Session, torrent ports.Torrent) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markActiveLocked(sess, torrent)
}

// MarkActiveStopped registers hash like MarkActive and flags it stopped under
// the same lock, so a caller that finds the entry always sees the flag too.
// Nothing is flagged when the hash was already active.
func (r *Registry) MarkActiveStopped(sess domain.Session, torrent ports.Torrent) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.markActiveLocked(sess, torrent)
	if err != nil {
		return entry, err
	}
	r.stopped[sess.Hash] = struct{}{}
	return entry, nil
}

func (r *Registry) markActiveLocked(sess domain.Session, torrent ports.Torrent) (Entry, error) {
	delete(r.adding, sess.Hash)
	if existing, ok := r.active[sess.Hash]; ok {
		return existing.entry(), ErrAlreadyActive
	}

	now := r.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.State == "" || sess.State == domain.StateAdding {
		sess.State = domain.StateActive
	}
	rec := &record{session: sess, torrent: torrent}
	r.active[sess.Hash] = rec
	return rec.entry(), nil
}

// Remove drops hash from every set and stops its progress task.
func (r *Registry) Remove(hash domain.ContentHash) (Entry, bool) {
	r.mu.Lock()
	rec, ok := r.active[hash]
	delete(r.active, hash)
	delete(r.adding, hash)
	delete(r.restoring, hash)
	delete(r.stopped, hash)
	r.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	if rec.cancelProgress != nil {
		rec.cancelProgress()
	}
	return rec.entry(), true
}

// Purge drops every active session and its stopped flag, stopping the
// progress tasks. Adding and restoring guards belong to in-flight calls and
// are left for them to clear.
func (r *Registry) Purge() []Entry {
	r.mu.Lock()
	recs := make([]*record, 0, len(r.active))
	for hash, rec := range r.active {
		recs = append(recs, rec)
		delete(r.active, hash)
		delete(r.stopped, hash)
	}
	r.mu.Unlock()

	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		if rec.cancelProgress != nil {
			rec.cancelProgress()
		}
		out = append(out, rec.entry())
	}
	return out
}

func (r *Registry) MarkStopped(hash domain.ContentHash) {
	r.mu.Lock()
	r.stopped[hash] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) ClearStopped(hash domain.ContentHash) {
	r.mu.Lock()
	delete(r.stopped, hash)
	r.mu.Unlock()
}

func (r *Registry) IsStopped(hash domain.ContentHash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stopped[hash]
	return ok
}

func (r *Registry) Get(hash domain.ContentHash) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.active[hash]
	if !ok {
		return Entry{}, false
	}
	return rec.entry(), true
}

// List returns active entries ordered by hash.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.active))
	for _, rec := range r.active {
		entries = append(entries, rec.entry())
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Session.Hash < entries[j].Session.Hash
	})
	return entries
}

// Others returns every active entry except hash.
func (r *Registry) Others(hash domain.ContentHash) []Entry {
	all := r.List()
	out := all[:0]
	for _, e := range all {
		if e.Session.Hash != hash {
			out = append(out, e)
		}
	}
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Active:    len(r.active),
		Adding:    len(r.adding),
		Restoring: len(r.restoring),
		Stopped:   len(r.stopped),
	}
}

// SetState applies a validated state transition.
func (r *Registry) SetState(hash domain.ContentHash, to domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[hash]
	if !ok {
		return domain.ErrNotFound
	}
	from := rec.session.State
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s for %s", domain.ErrInvalidTransition, from, to, hash)
	}
	rec.session.State = to
	rec.session.UpdatedAt = r.now()
	return nil
}

// SetSubscriber replaces the subscriber entitled to events; last writer wins.
func (r *Registry) SetSubscriber(hash domain.ContentHash, sub domain.SubscriberID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[hash]
	if !ok {
		return false
	}
	if sub != "" {
		rec.session.Subscriber = sub
	}
	return true
}

func (r *Registry) Subscriber(hash domain.ContentHash) domain.SubscriberID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.active[hash]; ok {
		return rec.session.Subscriber
	}
	return ""
}

// SetProgressCancel stores the cancel func of the session's progress task,
// cancelling any previous one. It returns false (and cancels) when the hash
// is no longer active.
func (r *Registry) SetProgressCancel(hash domain.ContentHash, cancel context.CancelFunc) bool {
	r.mu.Lock()
	rec, ok := r.active[hash]
	var prev context.CancelFunc
	if ok {
		prev = rec.cancelProgress
		rec.cancelProgress = cancel
	}
	r.mu.Unlock()

	if prev != nil {
		prev()
	}
	if !ok && cancel != nil {
		cancel()
	}
	return ok
}

func (r *Registry) SetSnapshot(hash domain.ContentHash, snap domain.ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.active[hash]; ok {
		rec.snapshot = &snap
	}
}

func (rec *record) entry() Entry {
	e := Entry{Session: rec.session, Torrent: rec.torrent}
	if rec.session.VideoFile != nil {
		file := *rec.session.VideoFile
		e.Session.VideoFile = &file
	}
	if rec.snapshot != nil {
		snap := *rec.snapshot
		e.Snapshot = &snap
	}
	return e
}
