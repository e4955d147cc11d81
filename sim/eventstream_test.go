package sim

import (
	"testing"

	"github.com/mmp/tmcsim/log"
)

func TestEventStream(t *testing.T) {
	es := NewEventStream(100, log.NewTest("warn"))
	defer es.Destroy()

	// Nothing is kept without subscribers.
	es.Post(Event{Type: TickEvent, Time: 1})

	a := es.Subscribe()
	es.Post(Event{Type: TickEvent, Time: 2})
	b := es.Subscribe()
	es.Post(Event{Type: TickEvent, Time: 3})

	select {
	case <-a.Notify():
	default:
		t.Error("subscriber not notified")
	}

	check := func(sub *EventsSubscription, want ...int) {
		t.Helper()
		ev, ok := sub.Get()
		if !ok {
			t.Fatal("Get failed")
		}
		if len(ev) != len(want) {
			t.Fatalf("got %d events, expected %d", len(ev), len(want))
		}
		for i, e := range ev {
			if e.Time != want[i] {
				t.Errorf("event %d: time %d, expected %d", i, e.Time, want[i])
			}
		}
	}

	check(a, 2, 3)
	check(b, 3)
	check(a)

	es.Post(Event{Type: TickEvent, Time: 4})
	b.Unsubscribe()
	b.Unsubscribe()
	if _, ok := b.Get(); ok {
		t.Error("Get succeeded after Unsubscribe")
	}
	check(a, 4)

	es.mu.Lock()
	es.compact()
	n, offset := len(es.events), a.offset
	es.mu.Unlock()
	if n != offset {
		t.Errorf("%d events left after compaction with subscriber at %d", n, offset)
	}

	es.Post(Event{Type: TickEvent, Time: 5})
	check(a, 5)
}

func TestEventStreamOverflow(t *testing.T) {
	es := NewEventStream(6, log.NewTest("error"))
	defer es.Destroy()

	ok, behind := es.Subscribe(), es.Subscribe()
	for i := 1; i <= 4; i++ {
		es.Post(Event{Type: TickEvent, Time: i})
	}
	if events, alive := ok.Get(); !alive || len(events) != 4 {
		t.Fatalf("expected 4 events, got %d (alive %v)", len(events), alive)
	}
	for i := 5; i <= 10; i++ {
		es.Post(Event{Type: TickEvent, Time: i})
	}

	if events, alive := ok.Get(); !alive || len(events) != 6 || events[0].Time != 5 {
		t.Errorf("subscriber within its backlog: %v, alive %v", events, alive)
	}
	if events, alive := behind.Get(); alive || events != nil {
		t.Errorf("subscriber 10 events behind should have overflowed")
	}

	select {
	case <-ok.Notify():
	default:
		t.Errorf("expected a pending notification")
	}

	ok.Unsubscribe()
	ok.Unsubscribe()
	if _, alive := ok.Get(); alive {
		t.Errorf("Get succeeded after Unsubscribe")
	}
}
