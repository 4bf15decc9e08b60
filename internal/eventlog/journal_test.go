package eventlog

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"scope-service/internal/model"
)

func TestJournalOrderAndSequence(t *testing.T) {
	j := NewJournal(10, zaptest.NewLogger(t))

	j.Record(model.DirectionSent, "ID?")
	j.Record(model.DirectionReceived, "TEK/TDS340,CF:91.1CT,FV:v1.00")

	events := j.Snapshot(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Seq != 1 || events[0].Direction != model.DirectionSent || events[0].Text != "ID?" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Seq != 2 || events[1].Direction != model.DirectionReceived {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if j.LastSeq() != 2 {
		t.Fatalf("expected last seq 2, got %d", j.LastSeq())
	}

	if since := j.Snapshot(1); len(since) != 1 || since[0].Seq != 2 {
		t.Fatalf("unexpected snapshot since 1: %+v", since)
	}
}

func TestJournalEvictsOldest(t *testing.T) {
	j := NewJournal(3, zaptest.NewLogger(t))

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		j.Record(model.DirectionSent, text)
	}

	events := j.Snapshot(0)
	if len(events) != 3 || j.Len() != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(events))
	}
	for i, want := range []string{"c", "d", "e"} {
		if events[i].Text != want || events[i].Seq != uint64(i+3) {
			t.Fatalf("event %d: expected %q seq %d, got %+v", i, want, i+3, events[i])
		}
	}
}

func TestJournalSubscribe(t *testing.T) {
	j := NewJournal(10, zaptest.NewLogger(t))

	_, events, cancel := j.Subscribe(4)
	j.Record(model.DirectionSent, "ALLE?")

	select {
	case event := <-events:
		if event.Text != "ALLE?" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not receive event")
	}

	cancel()
	cancel()
	if j.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel after cancel")
	}

	// recording after cancel must not panic
	j.Record(model.DirectionReceived, "0")
}

func TestJournalSlowSubscriberDoesNotBlock(t *testing.T) {
	j := NewJournal(100, zaptest.NewLogger(t))
	_, _, cancel := j.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		j.Record(model.DirectionSent, "CURV?")
	}
	if j.Len() != 10 {
		t.Fatalf("expected 10 events, got %d", j.Len())
	}
}

func TestJournalConcurrentRecord(t *testing.T) {
	j := NewJournal(1000, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				j.Record(model.DirectionSent, "ID?")
			}
		}()
	}
	wg.Wait()

	events := j.Snapshot(0)
	if len(events) != 400 {
		t.Fatalf("expected 400 events, got %d", len(events))
	}
	for i, event := range events {
		if event.Seq != uint64(i+1) {
			t.Fatalf("sequence gap at %d: %d", i, event.Seq)
		}
	}
}
