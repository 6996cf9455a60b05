package hub

import (
	"encoding/json"
	"testing"
	"time"
)

const recvTimeout = 2 * time.Second

// recv reads the next outbound message of c as a generic JSON object
func recv(t *testing.T, c *Conn) map[string]any {
	t.Helper()
	select {
	case data, ok := <-c.Outbound():
		if !ok {
			t.Fatalf("connection %s outbound closed", c.ID)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid outbound JSON %q: %v", data, err)
		}
		return msg
	case <-time.After(recvTimeout):
		t.Fatalf("timed out waiting for message on %s", c.ID)
		return nil
	}
}

// expectNone asserts that c has no queued outbound message
func expectNone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case data, ok := <-c.Outbound():
		if ok {
			t.Fatalf("connection %s got unexpected message %s", c.ID, data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func send(t *testing.T, h *Hub, c *Conn, msg map[string]any) error {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return h.HandleMessage(c, data)
}

func wantAction(t *testing.T, msg map[string]any, action string) {
	t.Helper()
	if msg["action"] != action {
		t.Fatalf("action = %v, want %s (message %v)", msg["action"], action, msg)
	}
}
