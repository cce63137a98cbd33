package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeDueAlerted, Data: TaskEvent{TaskID: 3}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != TypeDueAlerted || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
		if te, ok := e.Data.(TaskEvent); !ok || te.TaskID != 3 {
			t.Fatalf("unexpected payload %+v", e.Data)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, must not block

	if e := <-ch; e.Type != "a" {
		t.Fatalf("got %q, want a", e.Type)
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: "c"})
}
