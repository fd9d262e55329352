package realtimews

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubAuthorizer struct {
	allowed map[string]bool
	err     error
}

func (s stubAuthorizer) CanSubscribe(_ context.Context, _ int64, _ string, channel string) (bool, error) {
	return s.allowed[channel], s.err
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	hub.now = func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) }
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		if !ok {
			t.Fatalf("client queue closed")
		}
		var message Message
		if err := json.Unmarshal(payload, &message); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return message
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a message")
	}
	return Message{}
}

func expectSilence(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected message %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDeliversUserChannelByDefault(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "10")
	other := NewClient(hub, nil, "20")
	hub.Register(client)
	hub.Register(other)

	if err := hub.Publish("user:10", "payment_completed", map[string]any{"payment_id": 7}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	message := receive(t, client)
	if message.Type != "event" || message.Channel != "user:10" || message.Event != "payment_completed" {
		t.Fatalf("unexpected message %+v", message)
	}
	if message.Timestamp != "2026-03-15T09:00:00Z" {
		t.Fatalf("unexpected timestamp %q", message.Timestamp)
	}
	expectSilence(t, other)
}

func TestClientSubscribeRequiresAuthorization(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "10")
	hub.Register(client)
	authorizer := stubAuthorizer{allowed: map[string]bool{"session:5": true}}

	client.handle(authorizer, 10, "user", []byte(`{"type":"subscribe","channel":"session:6"}`))
	if message := receive(t, client); message.Type != "error" || message.Error != "forbidden" {
		t.Fatalf("expected forbidden, got %+v", message)
	}

	client.handle(authorizer, 10, "user", []byte(`{"type":"subscribe","channel":"session:5"}`))
	if message := receive(t, client); message.Type != "subscribed" || message.Channel != "session:5" {
		t.Fatalf("expected subscribed ack, got %+v", message)
	}

	if err := hub.Publish("session:5", "overtime_authorized", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if message := receive(t, client); message.Event != "overtime_authorized" {
		t.Fatalf("expected session event, got %+v", message)
	}

	client.handle(authorizer, 10, "user", []byte(`{"type":"unsubscribe","channel":"session:5"}`))
	if message := receive(t, client); message.Type != "unsubscribed" {
		t.Fatalf("expected unsubscribed ack, got %+v", message)
	}
	if err := hub.Publish("session:5", "overtime_captured", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	expectSilence(t, client)
}

func TestClientHandleRejectsBadMessages(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "10")
	hub.Register(client)

	cases := []struct {
		name       string
		authorizer Authorizer
		payload    string
		want       string
	}{
		{name: "not json", authorizer: stubAuthorizer{}, payload: `nope`, want: "invalid message payload"},
		{name: "unknown type", authorizer: stubAuthorizer{}, payload: `{"type":"shout"}`, want: "unsupported message type"},
		{name: "authorizer error", authorizer: stubAuthorizer{err: errors.New("db down")}, payload: `{"type":"subscribe","channel":"session:1"}`, want: "failed to subscribe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client.handle(tc.authorizer, 10, "user", []byte(tc.payload))
			if message := receive(t, client); message.Type != "error" || message.Error != tc.want {
				t.Fatalf("expected %q, got %+v", tc.want, message)
			}
		})
	}

	client.handle(stubAuthorizer{}, 10, "user", []byte(`{"type":"ping"}`))
	if message := receive(t, client); message.Type != "pong" {
		t.Fatalf("expected pong, got %+v", message)
	}
}

func TestUnregisterClosesQueue(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "10")
	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatalf("expected closed queue")
		}
	case <-time.After(time.Second):
		t.Fatalf("queue was not closed")
	}

	if err := hub.Publish("user:10", "payment_completed", nil); err != nil {
		t.Fatalf("Publish after unregister: %v", err)
	}
}
