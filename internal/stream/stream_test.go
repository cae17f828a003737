package stream

import (
	"testing"
	"time"

	"plantops.org/internal/plant"
)

func TestSubscribePublishCancel(t *testing.T) {
	s := New()
	ch1, cancel1 := s.Subscribe()
	ch2, cancel2 := s.Subscribe()
	defer cancel2()

	if s.Subscribers() != 2 {
		t.Fatalf("subscribers = %d, want 2", s.Subscribers())
	}

	ev := plant.Event{ID: "e1", Source: "m1", Type: plant.EventTypeProduction}
	s.Publish(ev)

	for i, ch := range []<-chan plant.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.ID != "e1" {
				t.Fatalf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received", i)
		}
	}

	cancel1()
	if s.Subscribers() != 1 {
		t.Fatalf("subscribers after cancel = %d, want 1", s.Subscribers())
	}
	if _, open := <-ch1; open {
		t.Fatal("cancelled channel still open")
	}
	// Double cancel is safe.
	cancel1()
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	s := New()
	_, cancel := s.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the subscriber buffer; extra events are dropped.
		for i := 0; i < 100; i++ {
			s.Publish(plant.Event{ID: "e"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
