package events

import (
	"testing"
)

func TestLatestDropsSupersededRuns(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	latest := NewLatest(rec)

	latest.Emit(Event{Type: RequestQueued, ItemUID: "item", RequestUID: "r1"})
	latest.Emit(Event{Type: RequestQueued, ItemUID: "item", RequestUID: "r2"})
	latest.Emit(Event{Type: ResponseReceived, ItemUID: "item", RequestUID: "r1"})
	latest.Emit(Event{Type: ResponseReceived, ItemUID: "item", RequestUID: "r2"})
	latest.Emit(Event{Type: ResponseReceived, ItemUID: "other", RequestUID: "r9"})
	latest.Emit(Event{Type: TestrunEnded})

	got := rec.Events()
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d: %v", len(got), rec.Types())
	}
	for _, e := range got {
		if e.RequestUID == "r1" && e.Type == ResponseReceived {
			t.Fatalf("stale response for r1 should be dropped")
		}
	}
}

func TestTeeAndChanSink(t *testing.T) {
	t.Parallel()

	ch := make(chan Event, 2)
	rec := &Recorder{}
	var calls int
	sink := Tee(ChanSink(ch), rec, nil, FuncSink(func(Event) { calls++ }))

	sink.Emit(Event{Type: TestrunStarted})
	sink.Emit(Event{Type: TestrunEnded})

	if len(ch) != 2 || calls != 2 {
		t.Fatalf("expected fan-out to all sinks, chan=%d calls=%d", len(ch), calls)
	}
	if ended := rec.OfType(TestrunEnded); len(ended) != 1 {
		t.Fatalf("expected one testrun-ended, got %d", len(ended))
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("expected reset recorder to be empty")
	}
}

func TestLatestRetiredRunStaysRetired(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	latest := NewLatest(rec)

	latest.Emit(Event{Type: RequestQueued, ItemUID: "item", RequestUID: "r1"})
	latest.Emit(Event{Type: RequestQueued, ItemUID: "item", RequestUID: "r2"})
	latest.Emit(Event{Type: RequestSent, ItemUID: "item", RequestUID: "r1"})
	latest.Emit(Event{Type: ResponseReceived, ItemUID: "item", RequestUID: "r2"})

	for _, e := range rec.Events() {
		if e.RequestUID == "r1" && e.Type != RequestQueued {
			t.Fatalf("late %s from superseded run was forwarded", e.Type)
		}
	}
	if got := rec.OfType(ResponseReceived); len(got) != 1 || got[0].RequestUID != "r2" {
		t.Fatalf("expected current run to keep its response, got %v", got)
	}
}
