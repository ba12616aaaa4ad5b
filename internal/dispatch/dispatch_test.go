package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func collect(t *testing.T, call *Call) []Result {
	t.Helper()
	var items []Result
	timeout := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-call.Results():
			if !ok {
				return items
			}
			items = append(items, res)
		case <-timeout:
			t.Fatal("timed out draining result stream")
		}
	}
}

func TestInvokeStreamsDataThenEnd(t *testing.T) {
	r := NewRegistry()
	r.Register(NewCapability("echo").Register("run", func(_ context.Context, payload json.RawMessage, emit Emit) error {
		for i := 0; i < 3; i++ {
			if err := emit(map[string]int{"i": i}); err != nil {
				return err
			}
		}
		return nil
	}))

	call, err := r.Invoke(context.Background(), "echo", "run", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	items := collect(t, call)
	if len(items) != 4 {
		t.Fatalf("got %d items, want 3 data + end", len(items))
	}
	for i := 0; i < 3; i++ {
		if items[i].Data == nil || items[i].Err != "" || items[i].End {
			t.Fatalf("item %d is not a pure data item: %+v", i, items[i])
		}
	}
	last := items[len(items)-1]
	if !last.End || last.Data != nil || last.Err != "" {
		t.Fatalf("stream did not end with a pure end marker: %+v", last)
	}
}

func TestInvokeHandlerError(t *testing.T) {
	r := NewRegistry()
	r.Register(NewCapability("c").Register("fail", func(context.Context, json.RawMessage, Emit) error {
		return errors.New("boom")
	}))

	call, err := r.Invoke(context.Background(), "c", "fail", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	items := collect(t, call)
	if len(items) != 2 {
		t.Fatalf("got %d items, want error + end", len(items))
	}
	if items[0].Err != "boom" {
		t.Fatalf("error item = %+v, want boom", items[0])
	}
	if !items[1].End {
		t.Fatal("error stream did not end with end marker")
	}
}

func TestInvokeUnknownCapability(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Invoke(context.Background(), "nope", "x", nil); !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("err = %v, want ErrUnknownCapability", err)
	}
}

func TestInvokeUnknownMethod(t *testing.T) {
	r := NewRegistry()
	r.Register(NewCapability("c"))
	if _, err := r.Invoke(context.Background(), "c", "nope", nil); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("err = %v, want ErrUnknownMethod", err)
	}
}

func TestCancelStopsHandler(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	stopped := make(chan struct{})
	r.Register(NewCapability("c").Register("wait", func(ctx context.Context, _ json.RawMessage, _ Emit) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}))

	call, err := r.Invoke(context.Background(), "c", "wait", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	<-started
	call.Cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not observe cancellation")
	}
	// The channel closes after cancellation; a cancelled invocation does
	// not surface context.Canceled as a stream error.
	for res := range call.Results() {
		if res.Err != "" {
			t.Fatalf("cancelled invocation surfaced error: %+v", res)
		}
	}
}

func TestCancelDeliversEndMarker(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	r.Register(NewCapability("c").Register("wait", func(ctx context.Context, _ json.RawMessage, _ Emit) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	call, err := r.Invoke(context.Background(), "c", "wait", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	<-started
	call.Cancel()

	// Even a cancelled invocation closes with the terminal marker, not
	// just a bare channel close.
	sawEnd := false
	for res := range call.Results() {
		if res.End {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Fatal("cancelled invocation closed without the terminal marker")
	}
}

func TestEmitObservesCancellation(t *testing.T) {
	r := NewRegistry()
	emitErr := make(chan error, 1)
	r.Register(NewCapability("c").Register("spin", func(ctx context.Context, _ json.RawMessage, emit Emit) error {
		for {
			if err := emit("tick"); err != nil {
				emitErr <- err
				return err
			}
		}
	}))

	call, err := r.Invoke(context.Background(), "c", "spin", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	// Drain a few items, then cancel without reading further.
	for i := 0; i < 3; i++ {
		<-call.Results()
	}
	call.Cancel()

	select {
	case err := <-emitErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("emit error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("emit never observed cancellation")
	}
}

func TestResultJSONShape(t *testing.T) {
	data, err := json.Marshal(Result{End: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"end":true}` {
		t.Fatalf("end marker JSON = %s", data)
	}
	data, err = json.Marshal(Result{Err: "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"error":"x"}` {
		t.Fatalf("error item JSON = %s", data)
	}
}
