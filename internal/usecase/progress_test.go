package usecase

import (
	"context"
	"testing"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

func TestProgressPublisherStoppedWins(t *testing.T) {
	h := newHarness(t)
	ft := h.register(t, hashA, domain.StatePaused)
	h.registry.MarkStopped(domain.ContentHash(hashA))

	var sampler speedSampler
	done := h.progress.handle(context.Background(), domain.ContentHash(hashA), ft, ports.TorrentEvent{
		Kind:               ports.EventProgress,
		FileBytesCompleted: 10,
		FileLength:         100,
		Paused:             false,
	}, &sampler)

	if done {
		t.Fatalf("progress event must not end the task")
	}
	if !ft.Paused() {
		t.Fatalf("stopped session should be paused again")
	}
	entry, _ := h.registry.Get(domain.ContentHash(hashA))
	if entry.Snapshot == nil || !entry.Snapshot.IsPaused {
		t.Fatalf("snapshot = %+v", entry.Snapshot)
	}
}

func TestProgressPublisherPublishesToCurrentSubscriber(t *testing.T) {
	h := newHarness(t)
	ft := h.register(t, hashA, domain.StateActive)
	h.registry.SetSubscriber(domain.ContentHash(hashA), "old")
	h.registry.SetSubscriber(domain.ContentHash(hashA), "new")

	var sampler speedSampler
	h.progress.handle(context.Background(), domain.ContentHash(hashA), ft, ports.TorrentEvent{
		Kind:               ports.EventProgress,
		FileBytesCompleted: 25,
		FileLength:         100,
		Peers:              3,
	}, &sampler)

	msgs := h.publisher.ofType("progress")
	if len(msgs) != 1 || msgs[0].Subscriber != "new" {
		t.Fatalf("progress messages = %+v", msgs)
	}
	ev := msgs[0].Data.(progressEvent)
	if ev.Progress != 0.25 || ev.Peers != 3 || ev.IsDone {
		t.Fatalf("event = %+v", ev)
	}
	if snap, ok, _ := h.cache.Get(context.Background(), domain.ContentHash(hashA)); !ok || snap.DownloadedBytes != 25 {
		t.Fatalf("cached snapshot = %+v ok=%v", snap, ok)
	}
}

func TestProgressPublisherDoneCompletesSession(t *testing.T) {
	h := newHarness(t)
	ft := h.register(t, hashA, domain.StateActive)
	h.registry.SetSubscriber(domain.ContentHash(hashA), "sub")

	var sampler speedSampler
	done := h.progress.handle(context.Background(), domain.ContentHash(hashA), ft, ports.TorrentEvent{
		Kind:               ports.EventDone,
		FileBytesCompleted: 100,
		FileLength:         100,
	}, &sampler)

	if !done {
		t.Fatalf("done event must end the task")
	}
	entry, _ := h.registry.Get(domain.ContentHash(hashA))
	if !entry.Session.Completed() {
		t.Fatalf("state = %s", entry.Session.State)
	}
	if len(h.repo.completed) != 1 {
		t.Fatalf("restore record should be marked completed")
	}
	msgs := h.publisher.ofType("done")
	if len(msgs) != 1 || !msgs[0].Data.(progressEvent).IsDone {
		t.Fatalf("done messages = %+v", msgs)
	}
}

func TestProgressPublisherRunConsumesEvents(t *testing.T) {
	h := newHarness(t)
	ft := h.register(t, hashA, domain.StateActive)
	h.registry.SetSubscriber(domain.ContentHash(hashA), "sub")
	ft.events = make(chan ports.TorrentEvent, 2)
	ft.events <- ports.TorrentEvent{Kind: ports.EventProgress, FileBytesCompleted: 50, FileLength: 100}
	ft.events <- ports.TorrentEvent{Kind: ports.EventDone, FileBytesCompleted: 100, FileLength: 100}

	finished := make(chan struct{})
	go func() {
		h.progress.Run(context.Background(), domain.ContentHash(hashA), ft, 1)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after done")
	}
	if len(h.publisher.ofType("progress")) != 1 || len(h.publisher.ofType("done")) != 1 {
		t.Fatalf("messages = %+v", h.publisher.messages)
	}
}

func TestProgressPublisherStartStopsOnRemove(t *testing.T) {
	h := newHarness(t)
	h.register(t, hashA, domain.StateActive)
	entry, _ := h.registry.Get(domain.ContentHash(hashA))

	ctx := h.progress.Start(entry)
	h.registry.Remove(domain.ContentHash(hashA))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("task context should end when the session is removed")
	}
}

func TestSpeedSampler(t *testing.T) {
	var s speedSampler
	base := time.Unix(0, 0)
	if got := s.sample(1000, base); got != 0 {
		t.Fatalf("first sample = %d", got)
	}
	if got := s.sample(3000, base.Add(2*time.Second)); got != 1000 {
		t.Fatalf("rate = %d, want 1000", got)
	}
	if got := s.sample(2000, base.Add(3*time.Second)); got != 0 {
		t.Fatalf("counter reset rate = %d, want 0", got)
	}
	if got := s.sample(2000, base.Add(3*time.Second)); got != 0 {
		t.Fatalf("zero elapsed keeps last rate, got %d", got)
	}
}
