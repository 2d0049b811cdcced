package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/callrelay/internal/protocol"
)

var ErrUnknownFunction = errors.New("unknown function")

// Handler runs one function invocation with its JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Function is a capability the model may call.
type Function struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     Handler
}

// Schema is the tool declaration advertised to the model.
func (f Function) Schema() protocol.Tool {
	return protocol.Tool{
		Type:        "function",
		Name:        f.Name,
		Description: f.Description,
		Parameters:  f.Parameters,
	}
}

// Registry is an ordered set of functions looked up by name.
type Registry struct {
	ordered []Function
	byName  map[string]int
	timeout time.Duration
}

// NewRegistry keeps the first function registered under each name. timeout
// bounds each handler call; zero means no bound beyond the caller's context.
func NewRegistry(timeout time.Duration, fns ...Function) *Registry {
	r := &Registry{byName: make(map[string]int, len(fns)), timeout: timeout}
	for _, fn := range fns {
		name := strings.TrimSpace(fn.Name)
		if name == "" || fn.Handler == nil {
			continue
		}
		if _, exists := r.byName[name]; exists {
			continue
		}
		fn.Name = name
		r.byName[name] = len(r.ordered)
		r.ordered = append(r.ordered, fn)
	}
	return r
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.ordered))
	for _, fn := range r.ordered {
		names = append(names, fn.Name)
	}
	return names
}

// Schemas returns tool declarations in registration order.
func (r *Registry) Schemas() []protocol.Tool {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	out := make([]protocol.Tool, 0, len(r.ordered))
	for _, fn := range r.ordered {
		out = append(out, fn.Schema())
	}
	return out
}

// Dispatch runs the named function and always yields a result string for the
// model. Unknown names also return an error wrapping ErrUnknownFunction so
// callers can log them; every other failure is folded into the result.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string) (string, error) {
	var (
		fn Function
		ok bool
	)
	if r != nil {
		var idx int
		idx, ok = r.byName[strings.TrimSpace(name)]
		if ok {
			fn = r.ordered[idx]
		}
	}
	if !ok {
		msg := fmt.Sprintf("No handler found for function: %s", name)
		return errorPayload(msg), fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}

	args := json.RawMessage(strings.TrimSpace(rawArgs))
	if !json.Valid(args) {
		return errorPayload("Invalid JSON arguments for function call."), nil
	}

	out, err := r.invoke(ctx, fn, args)
	if err != nil {
		return errorPayload(fmt.Sprintf("Error running function %s: %s", fn.Name, err.Error())), nil
	}
	return out, nil
}

func (r *Registry) invoke(ctx context.Context, fn Function, args json.RawMessage) (out string, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = ""
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn.Handler(ctx, args)
}

func errorPayload(msg string) string {
	raw, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"function call failed"}`
	}
	return string(raw)
}
