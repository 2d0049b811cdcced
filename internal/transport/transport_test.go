package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSendIgnoresMissingAndClosedConnections(t *testing.T) {
	if err := Send(nil, map[string]string{"a": "b"}); err != nil {
		t.Fatalf("Send(nil) error = %v", err)
	}
	var sock *Socket
	if err := Send(sock, map[string]string{"a": "b"}); err != nil {
		t.Fatalf("Send(nil socket) error = %v", err)
	}
	if sock.Open() {
		t.Fatalf("nil socket reports open")
	}
}

func TestDialerSendsRealtimeHeadersAndPumpsFrames(t *testing.T) {
	gotHeaders := make(chan http.Header, 1)
	gotQuery := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders <- r.Header.Clone()
		gotQuery <- r.URL.Query().Get("model")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, data)
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	d := Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), APIKey: "sk-test"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := d.Dial(ctx, "gpt-test")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer stream.Close()

	headers := <-gotHeaders
	if got := headers.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("Authorization = %q, want %q", got, "Bearer sk-test")
	}
	if got := headers.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Fatalf("OpenAI-Beta = %q, want %q", got, "realtime=v1")
	}
	if got := <-gotQuery; got != "gpt-test" {
		t.Fatalf("model query = %q, want %q", got, "gpt-test")
	}

	if err := Send(stream, map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case frame := <-stream.Frames():
		var got map[string]string
		if err := json.Unmarshal(frame, &got); err != nil {
			t.Fatalf("decode echo: %v", err)
		}
		if got["type"] != "ping" {
			t.Fatalf("echo type = %q, want ping", got["type"])
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for echoed frame")
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if stream.Open() {
		t.Fatalf("Open() = true after Close")
	}
	if err := Send(stream, map[string]string{"type": "late"}); err != nil {
		t.Fatalf("Send() after close error = %v, want nil", err)
	}
}

func TestFramesClosesWhenPeerHangsUp(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`))
		_ = conn.Close()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sock := NewSocket(conn, SocketOptions{})
	defer sock.Close()

	var frames int
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sock.Frames():
			if !ok {
				if frames != 1 {
					t.Fatalf("frames = %d, want 1", frames)
				}
				if sock.Open() {
					t.Fatalf("Open() = true after peer hang-up")
				}
				return
			}
			frames++
		case <-timeout:
			t.Fatalf("Frames() was never closed")
		}
	}
}

func TestDialerRejectsNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), APIKey: "bad", Attempts: 3}
	if _, err := d.Dial(context.Background(), "m"); err == nil {
		t.Fatalf("Dial() error = nil, want failure")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}
