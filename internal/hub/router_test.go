package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func TestSignalingScenarios(t *testing.T) {
	h := New(nil, Options{})
	s := h.Open()
	v := h.Open()

	t.Run("A streamer joins", func(t *testing.T) {
		if err := send(t, h, s, map[string]any{"action": "streamer_join", "camera_id": "cam1"}); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
		msg := recv(t, s)
		wantAction(t, msg, "streamer_joined")
		if msg["camera_id"] != "cam1" {
			t.Errorf("camera_id = %v, want cam1", msg["camera_id"])
		}
	})

	t.Run("B viewer joins", func(t *testing.T) {
		if err := send(t, h, v, map[string]any{"action": "viewer_join", "camera_id": "cam1"}); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
		msg := recv(t, s)
		wantAction(t, msg, "viewer_joined")
		if msg["viewer"] != v.ID || msg["camera_id"] != "cam1" {
			t.Errorf("viewer_joined = %v, want viewer %s on cam1", msg, v.ID)
		}
		expectNone(t, v)
	})

	t.Run("C offer relay", func(t *testing.T) {
		if err := send(t, h, v, map[string]any{"action": "offer", "target": s.ID, "sdp": "X"}); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
		msg := recv(t, s)
		wantAction(t, msg, "offer")
		if msg["sdp"] != "X" || msg["sender"] != v.ID {
			t.Errorf("relayed offer = %v, want sdp X from %s", msg, v.ID)
		}
	})

	t.Run("D viewer of idle camera", func(t *testing.T) {
		v2 := h.Open()
		if err := send(t, h, v2, map[string]any{"action": "viewer_join", "camera_id": "cam2"}); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
		msg := recv(t, v2)
		wantAction(t, msg, "error")
		if msg["message"] != "Camera is not streaming" {
			t.Errorf("message = %v, want Camera is not streaming", msg["message"])
		}
		if v2.Role() != RoleViewer || v2.CameraID() != "cam2" {
			t.Errorf("viewer role/camera = %s/%s, want viewer/cam2", v2.Role(), v2.CameraID())
		}
		if _, ok := h.Lookup(v2.ID); !ok {
			t.Error("viewer of idle camera is no longer registered")
		}
	})

	t.Run("E streamer disconnects", func(t *testing.T) {
		h.Close(s)
		msg := recv(t, v)
		wantAction(t, msg, "streamer_left")
		if msg["camera_id"] != "cam1" {
			t.Errorf("camera_id = %v, want cam1", msg["camera_id"])
		}
		if _, ok := h.Lookup(s.ID); ok {
			t.Error("closed streamer still registered")
		}
	})
}

func TestRelayFidelity(t *testing.T) {
	h := New(nil, Options{})
	s := h.Open()
	v := h.Open()
	send(t, h, s, map[string]any{"action": "streamer_join", "camera_id": "cam1"})
	recv(t, s)
	send(t, h, v, map[string]any{"action": "viewer_join", "camera_id": "cam1"})
	recv(t, s)

	candidate := map[string]any{"candidate": "candidate:1 1 UDP 2122 10.0.0.1 5000 typ host", "sdpMid": "0", "sdpMLineIndex": float64(0)}
	tests := []struct {
		name string
		from *Conn
		to   *Conn
		msg  map[string]any
	}{
		{"offer", s, v, map[string]any{"action": "offer", "target": v.ID, "sdp": map[string]any{"type": "offer", "sdp": "v=0"}, "extra": "kept"}},
		{"answer", v, s, map[string]any{"action": "answer", "target": s.ID, "sdp": map[string]any{"type": "answer", "sdp": "v=0"}}},
		{"ice-candidate", v, s, map[string]any{"action": "ice-candidate", "target": s.ID, "candidate": candidate}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := send(t, h, tt.from, tt.msg); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}
			got := recv(t, tt.to)
			if got["sender"] != tt.from.ID {
				t.Errorf("sender = %v, want %s", got["sender"], tt.from.ID)
			}
			for k, want := range tt.msg {
				wantJSON, _ := json.Marshal(want)
				gotJSON, _ := json.Marshal(got[k])
				if string(wantJSON) != string(gotJSON) {
					t.Errorf("field %s = %s, want %s", k, gotJSON, wantJSON)
				}
			}
			expectNone(t, tt.from)
		})
	}
}

func TestMessageErrors(t *testing.T) {
	h := New(nil, Options{})
	s := h.Open()
	send(t, h, s, map[string]any{"action": "streamer_join", "camera_id": "cam1"})
	recv(t, s)
	fresh := h.Open()

	tests := []struct {
		name    string
		conn    *Conn
		raw     string
		wantErr error
	}{
		{"invalid JSON", s, `{"action":`, ErrProtocolViolation},
		{"missing action", s, `{"camera_id":"cam1"}`, ErrProtocolViolation},
		{"unknown action", s, `{"action":"dance"}`, ErrProtocolViolation},
		{"missing camera", fresh, `{"action":"viewer_join"}`, ErrProtocolViolation},
		{"relay before join", fresh, `{"action":"offer","target":"x","sdp":"X"}`, ErrProtocolViolation},
		{"missing target", s, `{"action":"offer","sdp":"X"}`, ErrProtocolViolation},
		{"missing sdp", s, `{"action":"answer","target":"x"}`, ErrProtocolViolation},
		{"null candidate", s, `{"action":"ice-candidate","target":"x","candidate":null}`, ErrProtocolViolation},
		{"unknown target", s, `{"action":"offer","target":"nobody","sdp":"X"}`, ErrRoutingMiss},
		{"second join", s, `{"action":"viewer_join","camera_id":"cam1"}`, ErrProtocolViolation},
		{"repeated streamer join", s, `{"action":"streamer_join","camera_id":"cam1"}`, ErrProtocolViolation},
		{"frame from unassigned", fresh, `{"action":"video_frame","frame":"AAAA"}`, ErrProtocolViolation},
		{"frame without detector", s, `{"action":"video_frame","frame":"AAAA"}`, ErrCollaboratorFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.HandleMessage(tt.conn, []byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleMessage() error = %v, want %v", err, tt.wantErr)
			}
			msg := recv(t, tt.conn)
			wantAction(t, msg, "error")
			if msg["message"] == "" || msg["message"] == nil {
				t.Error("error reply has no message")
			}
			if _, ok := h.Lookup(tt.conn.ID); !ok {
				t.Error("connection deregistered after a non-fatal error")
			}
		})
	}

	if s.Role() != RoleStreamer || s.CameraID() != "cam1" {
		t.Errorf("streamer role/camera changed to %s/%s", s.Role(), s.CameraID())
	}
}

func TestCloseRunsOnce(t *testing.T) {
	h := New(nil, Options{})
	s := h.Open()
	v := h.Open()
	send(t, h, s, map[string]any{"action": "streamer_join", "camera_id": "cam1"})
	recv(t, s)
	send(t, h, v, map[string]any{"action": "viewer_join", "camera_id": "cam1"})
	recv(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Close(s)
		}()
	}
	wg.Wait()

	wantAction(t, recv(t, v), "streamer_left")
	expectNone(t, v)

	if _, ok := <-s.Outbound(); ok {
		t.Error("closed connection outbound channel still open")
	}
	if stats := h.Stats(); stats.Connections != 1 || stats.Streamers != 0 || stats.Viewers != 1 {
		t.Errorf("Stats() = %+v, want 1 connection with 1 viewer", stats)
	}

	// Messages to a closed connection are soft misses
	if err := send(t, h, v, map[string]any{"action": "answer", "target": s.ID, "sdp": "X"}); !errors.Is(err, ErrRoutingMiss) {
		t.Errorf("relay to closed target error = %v, want ErrRoutingMiss", err)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	h := New(nil, Options{})
	conns := []*Conn{h.Open(), h.Open(), h.Open()}
	send(t, h, conns[0], map[string]any{"action": "streamer_join", "camera_id": "cam1"})

	if err := h.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if stats := h.Stats(); stats.Connections != 0 || stats.Cameras != 0 {
		t.Errorf("Stats() after shutdown = %+v, want empty", stats)
	}
	for _, c := range conns {
		select {
		case <-c.Done():
		default:
			t.Errorf("connection %s not cancelled", c.ID)
		}
	}
}

func TestLateStreamerIsNotAnnounced(t *testing.T) {
	h := New(nil, Options{})
	v := h.Open()
	s := h.Open()

	send(t, h, v, map[string]any{"action": "viewer_join", "camera_id": "cam1"})
	wantAction(t, recv(t, v), "error")

	send(t, h, s, map[string]any{"action": "streamer_join", "camera_id": "cam1"})
	wantAction(t, recv(t, s), "streamer_joined")

	// Earlier viewers must rejoin to be offered the stream
	expectNone(t, v)
	expectNone(t, s)
	if streamer, ok := h.StreamerOf("cam1"); !ok || streamer != s {
		t.Errorf("StreamerOf() = %v, %v; want %s", streamer, ok, s.ID)
	}
}

func TestOpenAfterShutdown(t *testing.T) {
	h := New(nil, Options{})
	if err := h.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	late := h.Open()
	if _, ok := <-late.Outbound(); ok {
		t.Error("connection opened after shutdown has an open outbound channel")
	}
	select {
	case <-late.Done():
	default:
		t.Error("connection opened after shutdown not cancelled")
	}
	if _, ok := h.Lookup(late.ID); ok {
		t.Error("connection opened after shutdown is registered")
	}

	err := send(t, h, late, map[string]any{"action": "streamer_join", "camera_id": "cam1"})
	if !errors.Is(err, ErrTransportFailure) {
		t.Errorf("join after shutdown error = %v, want ErrTransportFailure", err)
	}
	if _, ok := h.StreamerOf("cam1"); ok {
		t.Error("camera has a streamer after shutdown")
	}
}
