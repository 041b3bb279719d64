package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamgate/internal/domain"
)

func TestRestoreAttachesPausedAndStopped(t *testing.T) {
	h := newHarness(t)
	uc := h.restore()

	results := uc.Execute(context.Background(), []domain.RestoreRecord{
		{Hash: hashA, Title: "Sample", Directory: "a"},
	})
	if len(results) != 1 || results[0].Status != domain.RestoreRestored {
		t.Fatalf("results = %+v", results)
	}
	entry, ok := h.registry.Get(domain.ContentHash(hashA))
	if !ok {
		t.Fatalf("restored session should be registered")
	}
	if entry.Session.State != domain.StatePaused {
		t.Fatalf("state = %s", entry.Session.State)
	}
	if !h.registry.IsStopped(domain.ContentHash(hashA)) {
		t.Fatalf("restored session should be stopped")
	}
	ft := h.engine.torrent(hashA)
	if !ft.Paused() || ft.isSelected(1) {
		t.Fatalf("restored torrent should be paused with nothing selected")
	}
	if h.registry.IsRestoring(domain.ContentHash(hashA)) {
		t.Fatalf("restoring flag should be cleared")
	}
}

func TestRestoreStatuses(t *testing.T) {
	h := newHarness(t)
	h.register(t, hashB, domain.StateActive)

	results := h.restore().Execute(context.Background(), []domain.RestoreRecord{
		{Hash: hashA, Directory: "a", IsCompleted: true},
		{Hash: hashB, Directory: "b"},
		{Hash: "garbage", Directory: "c"},
	})
	want := []domain.RestoreStatus{domain.RestoreSkipped, domain.RestoreActive, domain.RestoreFailed}
	for i, st := range want {
		if results[i].Status != st {
			t.Fatalf("result %d = %+v, want %s", i, results[i], st)
		}
	}
	if results[2].Error == "" {
		t.Fatalf("failed result should carry an error")
	}
	if h.engine.attaches() != 0 {
		t.Fatalf("no attach expected, got %d", h.engine.attaches())
	}
}

func TestRestoreAdoptsHeldTorrent(t *testing.T) {
	h := newHarness(t)
	h.engine.put(newFakeTorrent(domain.ContentHash(hashA)))

	results := h.restore().Execute(context.Background(), []domain.RestoreRecord{{Hash: hashA, Directory: "a"}})
	if results[0].Status != domain.RestoreAdopted {
		t.Fatalf("status = %s", results[0].Status)
	}
	if h.engine.attaches() != 0 {
		t.Fatalf("held torrent must not be re-attached")
	}
}

func TestRestoreParallelCallsAttachOnce(t *testing.T) {
	h := newHarness(t)
	h.engine.gate = make(chan struct{})
	uc := h.restore()
	records := []domain.RestoreRecord{{Hash: hashA, Directory: "a"}}

	var wg sync.WaitGroup
	out := make([][]domain.RestoreResult, 2)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = uc.Execute(context.Background(), records)
		}(i)
	}

	deadline := time.Now().Add(time.Second)
	for !h.registry.IsRestoring(domain.ContentHash(hashA)) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(h.engine.gate)
	wg.Wait()

	if got := h.engine.attaches(); got != 1 {
		t.Fatalf("attach calls = %d, want 1", got)
	}
	for i, results := range out {
		st := results[0].Status
		if st != domain.RestoreRestored && st != domain.RestoreActive {
			t.Fatalf("caller %d status = %s", i, st)
		}
	}
}

func TestRestoreNoVideoFileFails(t *testing.T) {
	h := newHarness(t)
	var created *fakeTorrent
	h.engine.newTorrent = func(hash domain.ContentHash) *fakeTorrent {
		created = newFakeTorrent(hash)
		created.files = created.files[:1]
		return created
	}

	results := h.restore().Execute(context.Background(), []domain.RestoreRecord{{Hash: hashA, Directory: "a"}})
	if results[0].Status != domain.RestoreFailed {
		t.Fatalf("status = %s", results[0].Status)
	}
	if created.dropCalls != 1 {
		t.Fatalf("torrent should be dropped")
	}
}

func TestRestoreFromRepository(t *testing.T) {
	h := newHarness(t)
	h.repo.records[domain.ContentHash(hashA)] = domain.RestoreRecord{Hash: hashA, Directory: "a"}

	results, err := h.restore().FromRepository(context.Background())
	if err != nil {
		t.Fatalf("FromRepository: %v", err)
	}
	if len(results) != 1 || results[0].Status != domain.RestoreRestored {
		t.Fatalf("results = %+v", results)
	}
}

func TestRestoreFromRepositoryListError(t *testing.T) {
	h := newHarness(t)
	h.repo.listErr = errors.New("down")

	if _, err := h.restore().FromRepository(context.Background()); !errors.Is(err, ErrRepository) {
		t.Fatalf("expected ErrRepository, got %v", err)
	}
}
