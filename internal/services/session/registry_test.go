package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamgate/internal/domain"
)

const hashA = domain.ContentHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
const hashB = domain.ContentHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

func newTestRegistry() *Registry {
	r := NewRegistry()
	fixed := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	return r
}

func TestBeginAddingIsExclusive(t *testing.T) {
	r := newTestRegistry()
	if !r.BeginAdding(hashA) {
		t.Fatal("first BeginAdding should succeed")
	}
	if r.BeginAdding(hashA) {
		t.Fatal("second BeginAdding should fail while adding")
	}
	if !r.IsAdding(hashA) {
		t.Fatal("expected hash in adding")
	}
	r.EndAdding(hashA)
	if r.IsAdding(hashA) {
		t.Fatal("EndAdding must clear the hash")
	}
	if !r.BeginAdding(hashA) {
		t.Fatal("BeginAdding after EndAdding should succeed")
	}
}

func TestBeginAddingConcurrent(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.BeginAdding(hashA) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("BeginAdding winners = %d, want 1", wins)
	}
}

func TestMarkActiveLeavesAdding(t *testing.T) {
	r := newTestRegistry()
	r.BeginAdding(hashA)

	entry, err := r.MarkActive(domain.Session{Hash: hashA, State: domain.StateAdding, Title: "Test"}, nil)
	if err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	if entry.Session.State != domain.StateActive {
		t.Fatalf("state = %s, want active", entry.Session.State)
	}
	if r.IsAdding(hashA) {
		t.Fatal("hash must not be in adding and active at once")
	}
	if r.BeginAdding(hashA) {
		t.Fatal("BeginAdding must fail for an active hash")
	}
	if entry.Session.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
}

func TestMarkActiveDuplicate(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.MarkActive(domain.Session{Hash: hashA, Title: "first"}, nil); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	entry, err := r.MarkActive(domain.Session{Hash: hashA, Title: "second"}, nil)
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("err = %v, want ErrAlreadyActive", err)
	}
	if entry.Session.Title != "first" {
		t.Fatalf("existing entry not returned, title = %q", entry.Session.Title)
	}
}

func TestStoppedIsIndependentOfActive(t *testing.T) {
	r := newTestRegistry()
	r.MarkStopped(hashA)
	if !r.IsStopped(hashA) {
		t.Fatal("expected stopped")
	}
	if _, err := r.MarkActive(domain.Session{Hash: hashA}, nil); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	if !r.IsStopped(hashA) {
		t.Fatal("MarkActive must not clear the stopped flag")
	}
	r.ClearStopped(hashA)
	if r.IsStopped(hashA) {
		t.Fatal("ClearStopped did not clear")
	}
}

func TestRemoveClearsEverythingAndCancels(t *testing.T) {
	r := newTestRegistry()
	r.MarkActive(domain.Session{Hash: hashA}, nil)
	r.MarkStopped(hashA)
	r.BeginRestoring(hashA)

	ctx, cancel := context.WithCancel(context.Background())
	if !r.SetProgressCancel(hashA, cancel) {
		t.Fatal("SetProgressCancel on active hash should succeed")
	}

	if _, ok := r.Remove(hashA); !ok {
		t.Fatal("Remove should report the entry")
	}
	if ctx.Err() == nil {
		t.Fatal("progress task not cancelled")
	}
	if _, ok := r.Get(hashA); ok {
		t.Fatal("entry still present")
	}
	if r.IsStopped(hashA) || r.IsRestoring(hashA) || r.IsAdding(hashA) {
		t.Fatal("sets not cleared")
	}
	if _, ok := r.Remove(hashA); ok {
		t.Fatal("second Remove should report missing")
	}
}

func TestSetProgressCancelReplacesPrevious(t *testing.T) {
	r := newTestRegistry()
	r.MarkActive(domain.Session{Hash: hashA}, nil)

	first, cancelFirst := context.WithCancel(context.Background())
	second, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()
	r.SetProgressCancel(hashA, cancelFirst)
	r.SetProgressCancel(hashA, cancelSecond)

	if first.Err() == nil {
		t.Fatal("previous progress task not cancelled")
	}
	if second.Err() != nil {
		t.Fatal("current progress task cancelled")
	}

	orphan, cancelOrphan := context.WithCancel(context.Background())
	if r.SetProgressCancel(hashB, cancelOrphan) {
		t.Fatal("SetProgressCancel on unknown hash should fail")
	}
	if orphan.Err() == nil {
		t.Fatal("orphan cancel not invoked")
	}
}

func TestSetState(t *testing.T) {
	r := newTestRegistry()
	r.MarkActive(domain.Session{Hash: hashA}, nil)

	if err := r.SetState(hashA, domain.StatePaused); err != nil {
		t.Fatalf("SetState paused: %v", err)
	}
	if err := r.SetState(hashA, domain.StateCompleted); err != nil {
		t.Fatalf("SetState completed: %v", err)
	}
	if err := r.SetState(hashA, domain.StateActive); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if err := r.SetState(hashB, domain.StateActive); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetSubscriberLastWriterWins(t *testing.T) {
	r := newTestRegistry()
	r.MarkActive(domain.Session{Hash: hashA, Subscriber: "one"}, nil)
	r.SetSubscriber(hashA, "two")
	if got := r.Subscriber(hashA); got != "two" {
		t.Fatalf("subscriber = %q, want two", got)
	}
	r.SetSubscriber(hashA, "")
	if got := r.Subscriber(hashA); got != "two" {
		t.Fatalf("empty subscriber must not overwrite, got %q", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := newTestRegistry()
	r.MarkActive(domain.Session{Hash: hashA, VideoFile: &domain.FileRef{Index: 1, Path: "a.mkv"}}, nil)
	entry, _ := r.Get(hashA)
	entry.Session.VideoFile.Path = "mutated"
	again, _ := r.Get(hashA)
	if again.Session.VideoFile.Path != "a.mkv" {
		t.Fatal("Get must return a defensive copy")
	}
}

func TestOthersAndStats(t *testing.T) {
	r := newTestRegistry()
	r.MarkActive(domain.Session{Hash: hashB}, nil)
	r.MarkActive(domain.Session{Hash: hashA}, nil)
	r.MarkStopped(hashB)
	r.BeginAdding("cccccccccccccccccccccccccccccccccccccccc")

	others := r.Others(hashA)
	if len(others) != 1 || others[0].Session.Hash != hashB {
		t.Fatalf("Others = %+v", others)
	}
	list := r.List()
	if len(list) != 2 || list[0].Session.Hash != hashA {
		t.Fatalf("List not sorted: %+v", list)
	}
	stats := r.Stats()
	if stats.Active != 2 || stats.Adding != 1 || stats.Stopped != 1 {
		t.Fatalf("Stats = %+v", stats)
	}
}

func TestPurgeClearsSessionsButKeepsGuards(t *testing.T) {
	r := newTestRegistry()
	r.MarkActive(domain.Session{Hash: hashA}, nil)
	r.MarkActive(domain.Session{Hash: hashB}, nil)
	r.MarkStopped(hashB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.SetProgressCancel(hashA, cancel)
	const pending = domain.ContentHash("cccccccccccccccccccccccccccccccccccccccc")
	r.BeginAdding(pending)
	r.BeginRestoring(pending)

	purged := r.Purge()
	if len(purged) != 2 {
		t.Fatalf("purged %d entries, want 2", len(purged))
	}
	if ctx.Err() == nil {
		t.Fatal("progress task not cancelled")
	}
	if _, ok := r.Get(hashA); ok {
		t.Fatal("hashA still active after purge")
	}
	if r.IsStopped(hashB) {
		t.Fatal("stopped flag survived purge")
	}
	if !r.IsAdding(pending) || !r.IsRestoring(pending) {
		t.Fatal("in-flight guards must survive purge")
	}
	if len(r.Purge()) != 0 {
		t.Fatal("second purge should find nothing")
	}
}

func TestMarkActiveStopped(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.MarkActiveStopped(domain.Session{Hash: hashA, State: domain.StatePaused}, nil); err != nil {
		t.Fatalf("MarkActiveStopped: %v", err)
	}
	if !r.IsStopped(hashA) {
		t.Fatal("hash not flagged stopped")
	}

	r.MarkActive(domain.Session{Hash: hashB}, nil)
	if _, err := r.MarkActiveStopped(domain.Session{Hash: hashB}, nil); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("err = %v, want ErrAlreadyActive", err)
	}
	if r.IsStopped(hashB) {
		t.Fatal("already active hash must not be flagged stopped")
	}
}
