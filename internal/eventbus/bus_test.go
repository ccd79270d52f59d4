package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, un1 := b.Subscribe(4)
	ch2, un2 := b.Subscribe(4)
	defer un1()
	defer un2()

	b.Publish(Event{Type: TypeScheduleFired, Data: "s1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeScheduleFired || e.Data != "s1" {
				t.Fatalf("unexpected event %+v", e)
			}
			if e.Time.IsZero() {
				t.Fatal("publish should stamp the event time")
			}
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, un := b.Subscribe(1)
	defer un()

	b.Publish(Event{Type: TypeScheduleFired})
	b.Publish(Event{Type: TypeScheduleDisabled}) // buffer full, dropped

	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
	if e := <-ch; e.Type != TypeScheduleFired {
		t.Fatalf("kept %q, want the first event", e.Type)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	b := New()
	ch, un := b.Subscribe(1)
	un()
	un() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: TypeScheduleFired}) // must not panic
}
