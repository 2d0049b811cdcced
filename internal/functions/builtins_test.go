package functions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/callrelay/internal/conversation"
)

func TestWeatherQueriesCoordinatesAndRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("latitude") != "48.85" || r.URL.Query().Get("longitude") != "2.35" {
			http.Error(w, "bad coords", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":21.5}}`))
	}))
	defer srv.Close()

	r := NewRegistry(5*time.Second, Weather(WeatherConfig{BaseURL: srv.URL}))
	out, err := r.Dispatch(context.Background(), "get_weather_from_coords", `{"latitude":48.85,"longitude":2.35}`)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if out != `{"temp":21.5}` {
		t.Fatalf("result = %q, want %q", out, `{"temp":21.5}`)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestWeatherRequiresCoordinates(t *testing.T) {
	r := NewRegistry(0, Weather(WeatherConfig{BaseURL: "http://127.0.0.1:1"}))
	out, _ := r.Dispatch(context.Background(), "get_weather_from_coords", `{"latitude":1}`)
	if !strings.Contains(out, "latitude and longitude are required") {
		t.Fatalf("result = %q", out)
	}
}

func TestCallerHistoryUsesCurrentCaller(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewInMemoryStore()
	if _, err := store.StartConversation(ctx, "MZold", "+1999", "", "+1555"); err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}
	if err := store.EndConversation(ctx, "MZold", 4); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}
	if _, err := store.StartConversation(ctx, "MZnow", "+1999", "", "+1555"); err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}
	if _, err := store.StartConversation(ctx, "MZother", "+1999", "", "+1777"); err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}

	r := NewRegistry(0, CallerHistory(store))
	callCtx := WithCall(ctx, CallInfo{StreamSID: "MZnow", CallerNumber: "+1555"})
	out, err := r.Dispatch(callCtx, "get_caller_history", "{}")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	var payload struct {
		CallerNumber  string `json:"caller_number"`
		PreviousCalls []struct {
			StreamSID    string `json:"stream_sid"`
			MessageCount int    `json:"message_count"`
		} `json:"previous_calls"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode result %q: %v", out, err)
	}
	if payload.CallerNumber != "+1555" {
		t.Fatalf("caller_number = %q, want +1555", payload.CallerNumber)
	}
	if len(payload.PreviousCalls) != 1 || payload.PreviousCalls[0].StreamSID != "MZold" || payload.PreviousCalls[0].MessageCount != 4 {
		t.Fatalf("previous_calls = %+v", payload.PreviousCalls)
	}
}

func TestCallerHistoryWithoutCaller(t *testing.T) {
	r := NewRegistry(0, CallerHistory(conversation.NewInMemoryStore()))
	out, _ := r.Dispatch(context.Background(), "get_caller_history", "{}")
	if !strings.Contains(out, "caller number unknown") {
		t.Fatalf("result = %q", out)
	}
}
