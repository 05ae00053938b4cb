package broadcast

import (
	"context"
	"encoding/json"
	"testing"

	"matchpulse/internal/model"
)

func fakeClient(h *Hub, userID int64, buffer int) *Client {
	c := &Client{
		send:     make(chan []byte, buffer),
		hub:      h,
		userID:   userID,
		fixtures: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func recv(t *testing.T, c *Client) model.Message {
	t.Helper()
	select {
	case frame := <-c.send:
		var msg model.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return msg
	default:
		t.Fatal("expected a frame")
	}
	return model.Message{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected frame: %s", frame)
	default:
	}
}

func TestPublish_UserScoping(t *testing.T) {
	h := NewHub()
	alice := fakeClient(h, 1, 4)
	bob := fakeClient(h, 2, 4)
	anon := fakeClient(h, 0, 4)

	h.Publish(context.Background(), model.NewUserMessage(model.MsgAlertTriggered, 1, map[string]string{"alert": "x"}))

	if msg := recv(t, alice); msg.Type != model.MsgAlertTriggered || msg.UserID != 1 {
		t.Errorf("alice got wrong envelope: %+v", msg)
	}
	assertEmpty(t, bob)
	assertEmpty(t, anon)
}

func TestPublish_FixtureSubscriptions(t *testing.T) {
	h := NewHub()
	all := fakeClient(h, 0, 4)
	scoped := fakeClient(h, 0, 4)
	scoped.fixtures["f1"] = true

	pub := func(fixtureID string) {
		h.Publish(context.Background(), model.NewMessage(model.MsgMatchUpdate, map[string]string{"fixture_id": fixtureID}))
	}
	pub("f1")
	pub("f2")

	if msg := recv(t, all); msg.Type != model.MsgMatchUpdate {
		t.Errorf("unsubscribed client receives everything, got %+v", msg)
	}
	recv(t, all) // f2 as well

	recv(t, scoped) // f1
	assertEmpty(t, scoped)
}

func TestPublish_SystemWideReachesEveryone(t *testing.T) {
	h := NewHub()
	a := fakeClient(h, 1, 4)
	b := fakeClient(h, 0, 4)
	b.fixtures["f9"] = true

	h.Publish(context.Background(), model.NewMessage(model.MsgSystemStatus, map[string]int{"monitored": 3}))

	recv(t, a)
	recv(t, b)
}

func TestPublish_FullBufferDropsNotBlocks(t *testing.T) {
	h := NewHub()
	c := fakeClient(h, 0, 1)
	dropped := 0
	h.OnDrop = func() { dropped++ }

	msg := model.NewMessage(model.MsgSystemStatus, nil)
	h.Publish(context.Background(), msg)
	h.Publish(context.Background(), msg) // buffer full now

	if dropped != 1 {
		t.Errorf("expected 1 dropped frame, got %d", dropped)
	}
	recv(t, c)
	assertEmpty(t, c)
}

func TestSendInitialState_PrimesLatestPerType(t *testing.T) {
	h := NewHub()
	h.Publish(context.Background(), model.NewMessage(model.MsgMatchUpdate, map[string]string{"fixture_id": "f1"}))
	h.Publish(context.Background(), model.NewMessage(model.MsgMatchUpdate, map[string]string{"fixture_id": "f2"}))
	h.Publish(context.Background(), model.NewMessage(model.MsgSystemStatus, map[string]int{"monitored": 1}))
	// User-scoped envelopes never prime fresh clients.
	h.Publish(context.Background(), model.NewUserMessage(model.MsgAlertTriggered, 7, nil))

	c := fakeClient(h, 0, 8)
	c.sendInitialState()

	types := map[string]int{}
	for i := 0; i < 2; i++ {
		types[recv(t, c).Type]++
	}
	assertEmpty(t, c)
	if types[model.MsgMatchUpdate] != 1 || types[model.MsgSystemStatus] != 1 {
		t.Errorf("expected one latest frame per type, got %v", types)
	}
}

func TestRemoveClient(t *testing.T) {
	h := NewHub()
	c := fakeClient(h, 0, 1)
	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", h.ClientCount())
	}
	h.removeClient(c)
	h.removeClient(c) // idempotent
	if h.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", h.ClientCount())
	}
	if _, open := <-c.send; open {
		t.Error("send channel must be closed on removal")
	}
}

func TestParseUserID(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"42", 42},
		{"abc", 0},
		{"12x", 0},
	}
	for _, tc := range cases {
		if got := parseUserID(tc.in); got != tc.want {
			t.Errorf("parseUserID(%q): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestFixtureOf(t *testing.T) {
	if got := fixtureOf(json.RawMessage(`{"fixture_id":"f1","x":1}`)); got != "f1" {
		t.Errorf("expected f1, got %q", got)
	}
	if got := fixtureOf(json.RawMessage(`{"other":true}`)); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	if got := fixtureOf(json.RawMessage(`not-json`)); got != "" {
		t.Errorf("malformed payload must yield empty, got %q", got)
	}
}
