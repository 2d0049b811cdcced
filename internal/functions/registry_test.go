package functions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func echo(name string) Function {
	return Function{
		Name:       name,
		Parameters: json.RawMessage(`{"type":"object"}`),
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
}

func TestDispatchUnknownFunctionStillAnswers(t *testing.T) {
	r := NewRegistry(0, echo("a"))
	out, err := r.Dispatch(context.Background(), "missing", "{}")
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("Dispatch() error = %v, want ErrUnknownFunction", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("result is not JSON: %q", out)
	}
	if !strings.Contains(payload["error"], "missing") {
		t.Fatalf("error payload = %q, want function name", payload["error"])
	}
}

func TestDispatchInvalidArgumentsSkipsHandler(t *testing.T) {
	called := false
	r := NewRegistry(0, Function{Name: "f", Handler: func(context.Context, json.RawMessage) (string, error) {
		called = true
		return "", nil
	}})
	for _, args := range []string{"{not json", "", "   "} {
		out, err := r.Dispatch(context.Background(), "f", args)
		if err != nil {
			t.Fatalf("Dispatch(%q) error = %v", args, err)
		}
		if !strings.Contains(out, "Invalid JSON arguments") {
			t.Fatalf("Dispatch(%q) = %q, want invalid arguments payload", args, out)
		}
		if called {
			t.Fatalf("handler was invoked for arguments %q", args)
		}
	}
}

func TestDispatchHandlerErrorAndPanicAreFolded(t *testing.T) {
	r := NewRegistry(0,
		Function{Name: "fails", Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("boom")
		}},
		Function{Name: "panics", Handler: func(context.Context, json.RawMessage) (string, error) {
			panic("kaboom")
		}},
	)
	out, err := r.Dispatch(context.Background(), "fails", "{}")
	if err != nil {
		t.Fatalf("Dispatch(fails) error = %v", err)
	}
	if !strings.Contains(out, "Error running function fails: boom") {
		t.Fatalf("result = %q", out)
	}
	out, err = r.Dispatch(context.Background(), "panics", "{}")
	if err != nil {
		t.Fatalf("Dispatch(panics) error = %v", err)
	}
	if !strings.Contains(out, "panics") || !strings.Contains(out, "kaboom") {
		t.Fatalf("result = %q", out)
	}
}

func TestDispatchAppliesTimeout(t *testing.T) {
	r := NewRegistry(20*time.Millisecond, Function{Name: "slow", Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})
	out, _ := r.Dispatch(context.Background(), "slow", "{}")
	if !strings.Contains(out, "deadline exceeded") {
		t.Fatalf("result = %q, want deadline error", out)
	}
}

func TestSchemasKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry(0, echo("b"), echo("a"), echo("b"), Function{Name: "nohandler"})
	schemas := r.Schemas()
	if len(schemas) != 2 || schemas[0].Name != "b" || schemas[1].Name != "a" {
		t.Fatalf("Schemas() = %+v", schemas)
	}
	if schemas[0].Type != "function" {
		t.Fatalf("schema type = %q, want function", schemas[0].Type)
	}
	if got := strings.Join(r.Names(), ","); got != "b,a" {
		t.Fatalf("Names() = %q, want %q", got, "b,a")
	}
	if NewRegistry(0).Schemas() != nil {
		t.Fatalf("empty registry Schemas() should be nil")
	}
}
