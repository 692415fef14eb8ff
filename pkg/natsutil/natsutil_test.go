package natsutil

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func runServer(t *testing.T) *nats.Conn {
	t.Helper()
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(s.Shutdown)

	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

type event struct {
	Story    string `json:"story"`
	Imported int    `json:"imported"`
}

func TestPublishSubscribe(t *testing.T) {
	nc := runServer(t)

	ch := make(chan event, 1)
	sub, err := Subscribe(nc, "test.harvest", func(_ context.Context, e event) { ch <- e })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.harvest", event{Story: "Worm", Imported: 3}); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if got.Story != "Worm" || got.Imported != 3 {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSubscribe_DropsMalformed(t *testing.T) {
	nc := runServer(t)

	ch := make(chan event, 2)
	sub, err := Subscribe(nc, "test.bad", func(_ context.Context, e event) { ch <- e })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_ = nc.Publish("test.bad", []byte("{not json"))
	_ = Publish(context.Background(), nc, "test.bad", event{Story: "ok"})
	select {
	case got := <-ch:
		if got.Story != "ok" {
			t.Fatalf("expected only the valid message, got %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}

func TestEvents(t *testing.T) {
	nc := runServer(t)
	ev := NewEvents(nc, "storyrag")
	if s := ev.Subject("sync.completed"); s != "storyrag.sync.completed" {
		t.Fatalf("subject = %s", s)
	}

	ch := make(chan event, 1)
	sub, _ := Subscribe(nc, "storyrag.harvest.completed", func(_ context.Context, e event) { ch <- e })
	defer sub.Unsubscribe()

	if err := ev.Emit(context.Background(), "harvest.completed", event{Story: "Mother of Learning"}); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if got.Story != "Mother of Learning" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}

func TestNilEvents(t *testing.T) {
	var ev *Events
	if err := ev.Emit(context.Background(), "x", event{}); err != nil {
		t.Fatalf("nil events should be a no-op, got %v", err)
	}
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	if c.Get("traceparent") != "" || len(c.Keys()) != 0 {
		t.Fatal("empty carrier should be empty")
	}
	c.Set("traceparent", "00-abc")
	if c.Get("traceparent") != "00-abc" || len(c.Keys()) != 1 {
		t.Fatal("carrier did not store header")
	}
}
