package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ent0n29/callrelay/internal/config"
)

func TestBuildWithInMemoryStore(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace: "test_app_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"),
		OpenAIAPIKey:     "sk-test",
		FunctionTimeout:  time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	res, err := Build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if res.Store.Mode() != "in-memory" {
		t.Fatalf("store mode = %q, want in-memory", res.Store.Mode())
	}
	names := map[string]bool{}
	for _, tool := range res.Engine.Tools() {
		names[tool.Name] = true
	}
	if !names["get_weather_from_coords"] || !names["get_caller_history"] {
		t.Fatalf("tools = %v, want weather and caller history", names)
	}
	if res.Engine.Registry() != res.Sessions {
		t.Fatalf("engine registry is not the built session registry")
	}
}
