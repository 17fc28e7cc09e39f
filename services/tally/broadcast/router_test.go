// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package broadcast

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jinterlante1206/LiveTally/services/tally/datatypes"
)

// fakeSnapshots is a canned SnapshotSource for router tests.
type fakeSnapshots struct {
	public  []datatypes.CounterView
	private map[string][]datatypes.CounterView
}

func (f *fakeSnapshots) PublicSnapshot(_ context.Context) ([]datatypes.CounterView, error) {
	return f.public, nil
}

func (f *fakeSnapshots) PrivateSnapshot(_ context.Context, identityID string) ([]datatypes.CounterView, error) {
	return f.private[identityID], nil
}

func newTestRouter() *Router {
	return NewRouter(&fakeSnapshots{
		public: []datatypes.CounterView{{ID: "pub-1", Name: "demo", Value: 3}},
		private: map[string][]datatypes.CounterView{
			"ident-a": {{ID: "prv-1", Name: "secret", Value: 1}},
		},
	})
}

// recvEvent drains one pending delivery and decodes it. Fails the test if the
// outbox is empty.
func recvEvent(t *testing.T, c *Conn) datatypes.Event {
	t.Helper()
	select {
	case msg := <-c.Outbox():
		var ev datatypes.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		return ev
	default:
		t.Fatal("expected a pending delivery, outbox is empty")
		return datatypes.Event{}
	}
}

func assertEmpty(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case msg := <-c.Outbox():
		t.Fatalf("unexpected delivery: %s", msg)
	default:
	}
}

func TestRouter_PublishToSubscribers(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter()

	sub := NewConn("ident-a")
	other := NewConn("ident-b")
	r.Register(sub)
	r.Register(other)

	r.Subscribe(ctx, sub, CounterChannel("pub-1"))
	// counter channels carry no snapshot
	assertEmpty(t, sub)

	r.Publish(CounterChannel("pub-1"), datatypes.Event{
		Name: datatypes.EventUpdated,
		Data: datatypes.CounterView{ID: "pub-1", Name: "demo", Value: 4},
	})

	ev := recvEvent(t, sub)
	if ev.Name != datatypes.EventUpdated {
		t.Errorf("event name = %q, want %q", ev.Name, datatypes.EventUpdated)
	}
	if ev.Channel != CounterChannel("pub-1") {
		t.Errorf("event channel = %q, want %q", ev.Channel, CounterChannel("pub-1"))
	}

	// A registered but unsubscribed connection receives nothing.
	assertEmpty(t, other)
}

func TestRouter_SubscribePublicSendsSnapshot(t *testing.T) {
	r := newTestRouter()
	c := NewConn("")
	r.Register(c)

	r.Subscribe(context.Background(), c, ChannelPublic)

	ev := recvEvent(t, c)
	if ev.Name != datatypes.EventSync {
		t.Errorf("event name = %q, want %q", ev.Name, datatypes.EventSync)
	}
	if ev.Channel != ChannelPublic {
		t.Errorf("event channel = %q, want %q", ev.Channel, ChannelPublic)
	}
}

func TestRouter_SubscribeOwnPrivateSendsSnapshot(t *testing.T) {
	r := newTestRouter()
	c := NewConn("ident-a")
	r.Register(c)

	r.Subscribe(context.Background(), c, PrivateChannel("ident-a"))

	ev := recvEvent(t, c)
	if ev.Name != datatypes.EventSync {
		t.Errorf("event name = %q, want %q", ev.Name, datatypes.EventSync)
	}

	views, err := json.Marshal(ev.Data)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []datatypes.CounterView
	if err := json.Unmarshal(views, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || decoded[0].ID != "prv-1" {
		t.Errorf("snapshot = %+v, want the identity's private counter", decoded)
	}
}

func TestRouter_ForeignPrivateSubscriptionIgnored(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter()

	eavesdropper := NewConn("ident-b")
	r.Register(eavesdropper)

	// Guessing someone else's private channel name must attach nothing.
	r.Subscribe(ctx, eavesdropper, PrivateChannel("ident-a"))
	assertEmpty(t, eavesdropper)

	r.Publish(PrivateChannel("ident-a"), datatypes.Event{
		Name: datatypes.EventUpdated,
		Data: datatypes.CounterView{ID: "prv-1", Name: "secret", Value: 2},
	})
	assertEmpty(t, eavesdropper)
}

func TestRouter_AnonymousCannotSubscribePrivate(t *testing.T) {
	r := newTestRouter()
	c := NewConn("")
	r.Register(c)

	r.Subscribe(context.Background(), c, PrivateChannel("ident-a"))
	assertEmpty(t, c)
}

func TestRouter_SubscribeUnregisteredConn(t *testing.T) {
	r := newTestRouter()
	c := NewConn("ident-a")

	// Never registered: subscribe is a no-op, no snapshot.
	r.Subscribe(context.Background(), c, ChannelPublic)
	assertEmpty(t, c)

	r.Publish(ChannelPublic, datatypes.Event{Name: datatypes.EventCreated})
	assertEmpty(t, c)
}

func TestRouter_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter()
	c := NewConn("ident-a")
	r.Register(c)

	r.Subscribe(ctx, c, CounterChannel("pub-1"))
	r.Unsubscribe(c, CounterChannel("pub-1"))

	r.Publish(CounterChannel("pub-1"), datatypes.Event{Name: datatypes.EventUpdated})
	assertEmpty(t, c)
}

func TestRouter_UnregisterRemovesAllMemberships(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter()

	c := NewConn("ident-a")
	r.Register(c)
	r.Subscribe(ctx, c, ChannelPublic)
	r.Subscribe(ctx, c, CounterChannel("pub-1"))
	for len(c.Outbox()) > 0 { // drain the public snapshot
		<-c.Outbox()
	}

	r.Unregister(c)
	r.Unregister(c) // idempotent

	r.Publish(ChannelPublic, datatypes.Event{Name: datatypes.EventCreated})
	r.Publish(CounterChannel("pub-1"), datatypes.Event{Name: datatypes.EventUpdated})

	// Outbox is closed after Unregister and no deliveries were enqueued.
	if msg, ok := <-c.Outbox(); ok {
		t.Fatalf("unexpected delivery after unregister: %s", msg)
	}
}

func TestRouter_FullOutboxDropsWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter()
	c := NewConn("ident-a")
	r.Register(c)
	r.Subscribe(ctx, c, CounterChannel("pub-1"))

	// Overflow the outbox; nobody is draining it. Publish must not block.
	for i := 0; i < outboxSize+10; i++ {
		r.Publish(CounterChannel("pub-1"), datatypes.Event{
			Name: datatypes.EventUpdated,
			Data: datatypes.CounterView{ID: "pub-1", Value: uint64(i)},
		})
	}

	delivered := 0
	for len(c.Outbox()) > 0 {
		<-c.Outbox()
		delivered++
	}
	if delivered != outboxSize {
		t.Errorf("delivered %d events, want exactly the outbox capacity %d", delivered, outboxSize)
	}
}
