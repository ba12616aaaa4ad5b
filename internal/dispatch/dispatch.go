// Package dispatch routes capability invocations to registered handlers.
// Every capability area exposes the same contract: invoke a named method
// with a structured payload and consume a stream of results, with a handle
// to cancel the invocation mid-flight. The stream always terminates with a
// distinct end marker, separate from data and error items.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	klog "github.com/mintward/mintward/internal/log"
)

// Invocation-scoped errors. These fail a single invocation, never the
// whole client.
var (
	ErrUnknownCapability = errors.New("dispatch: unknown capability")
	ErrUnknownMethod     = errors.New("dispatch: unknown method")
)

// Result is one stream item. Exactly one of Data, Err, or End is
// meaningful.
type Result struct {
	Data json.RawMessage `json:"data,omitempty"`
	Err  string          `json:"error,omitempty"`
	End  bool            `json:"end,omitempty"`
}

// Emit sends one data item to the invocation's stream. It returns the
// stream context's error once the invocation is cancelled, so handlers
// checking emit's result are cooperatively cancellable at every item.
type Emit func(v any) error

// Handler implements one method of a capability.
type Handler func(ctx context.Context, payload json.RawMessage, emit Emit) error

// Capability is a named group of methods.
type Capability struct {
	name    string
	methods map[string]Handler
}

// NewCapability creates an empty capability.
func NewCapability(name string) *Capability {
	return &Capability{name: name, methods: make(map[string]Handler)}
}

// Register adds a method handler. Later registrations replace earlier ones.
func (c *Capability) Register(method string, h Handler) *Capability {
	c.methods[method] = h
	return c
}

// Registry resolves capability names to implementations, once per
// invocation.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]*Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Capability)}
}

// Register adds a capability to the registry.
func (r *Registry) Register(c *Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.name] = c
}

// Call is a handle to an in-flight invocation.
type Call struct {
	results chan Result
	cancel  context.CancelFunc
}

// Results returns the invocation's stream. The channel is closed after the
// end marker.
func (c *Call) Results() <-chan Result {
	return c.results
}

// Cancel requests cooperative cancellation of the invocation.
func (c *Call) Cancel() {
	c.cancel()
}

// Invoke resolves and runs capability.method with the given payload. The
// handler runs in its own goroutine; results stream through the returned
// Call. Resolution failures are returned directly and scoped to this
// invocation alone.
func (r *Registry) Invoke(ctx context.Context, capability, method string, payload json.RawMessage) (*Call, error) {
	r.mu.RLock()
	c, ok := r.caps[capability]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, capability)
	}
	h, ok := c.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q.%q", ErrUnknownMethod, capability, method)
	}

	cctx, cancel := context.WithCancel(ctx)
	call := &Call{
		results: make(chan Result, 16),
		cancel:  cancel,
	}

	send := func(res Result) bool {
		select {
		case call.results <- res:
			return true
		case <-cctx.Done():
			return false
		}
	}

	go func() {
		defer cancel()
		defer close(call.results)

		emit := func(v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal result: %w", err)
			}
			if !send(Result{Data: data}) {
				return cctx.Err()
			}
			return nil
		}

		err := h(cctx, payload, emit)
		if err != nil && !errors.Is(err, context.Canceled) {
			klog.Dispatch.Debug().
				Str("capability", capability).
				Str("method", method).
				Err(err).
				Msg("invocation failed")
			send(Result{Err: err.Error()})
		}
		// The terminal marker is delivered even on the cancel path:
		// block only while the invocation is live, then fall back to
		// a non-blocking send so a drained buffer still gets the
		// marker before the channel closes.
		select {
		case call.results <- Result{End: true}:
		case <-cctx.Done():
			select {
			case call.results <- Result{End: true}:
			default:
			}
		}
	}()

	return call, nil
}
