// Package rpcclient provides an HTTP client for mintwardd's invoke endpoint.
package rpcclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mintward/mintward/internal/dispatch"
)

// Client talks to a mintwardd invocation endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new client targeting the given base URL, e.g.
// "http://127.0.0.1:8790".
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		// No client-side timeout: streaming invocations are open-ended
		// and bounded by the caller's context.
		http: &http.Client{},
	}
}

// request is the body of POST /invoke.
type request struct {
	Wallet     string          `json:"wallet"`
	Capability string          `json:"capability"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// RPCError is returned when the server rejects an invocation or a stream
// item carries an error.
type RPCError struct {
	Status  int
	Message string
}

func (e *RPCError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("rpc error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("rpc error: %s", e.Message)
}

// Stream invokes a wallet capability method and calls fn for each data item
// in the result stream. It returns when the stream ends, the server reports
// an error, or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, wallet, capability, method string, payload interface{}, fn func(json.RawMessage) error) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	body, err := json.Marshal(request{
		Wallet:     wallet,
		Capability: capability,
		Method:     method,
		Payload:    raw,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/invoke", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RPCError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var res dispatch.Result
		if err := json.Unmarshal(line, &res); err != nil {
			return fmt.Errorf("decode stream line: %w", err)
		}
		switch {
		case res.Err != "":
			return &RPCError{Message: res.Err}
		case res.End:
			return nil
		default:
			if fn != nil {
				if err := fn(res.Data); err != nil {
					return err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream ended without end marker")
}

// Call invokes a method expected to produce a single data item and
// unmarshals it into result. If result is nil the item is discarded.
func (c *Client) Call(ctx context.Context, wallet, capability, method string, payload, result interface{}) error {
	got := false
	err := c.Stream(ctx, wallet, capability, method, payload, func(data json.RawMessage) error {
		if got {
			return nil
		}
		got = true
		if result == nil {
			return nil
		}
		return json.Unmarshal(data, result)
	})
	if err != nil {
		return err
	}
	if !got && result != nil {
		return fmt.Errorf("empty result stream")
	}
	return nil
}
