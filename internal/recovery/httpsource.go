package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultBatchSize is the page size requested when none is configured.
const defaultBatchSize = 256

// HTTPSource pages the issuance history from a guardian HTTP endpoint.
//
// The endpoint contract is GET {base}/history?from=N&limit=M returning
//
//	{"entries": [...], "next": N, "end": bool}
//
// where each entry is an opaque JSON record decoded by the engine.
type HTTPSource struct {
	base  string
	limit int
	http  *http.Client
}

// NewHTTPSource creates a history source against the given base URL.
// batchSize <= 0 selects the default page size.
func NewHTTPSource(base string, batchSize int) *HTTPSource {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &HTTPSource{
		base:  base,
		limit: batchSize,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

type historyPage struct {
	Entries []json.RawMessage `json:"entries"`
	Next    uint64            `json:"next"`
	End     bool              `json:"end"`
}

// FetchNextBatch requests one page of the history log starting at from.
func (s *HTTPSource) FetchNextBatch(ctx context.Context, from Checkpoint) (Batch, error) {
	url := fmt.Sprintf("%s/history?from=%d&limit=%d", s.base, uint64(from), s.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("create history request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("history fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Batch{}, fmt.Errorf("history fetch: unexpected status %d", resp.StatusCode)
	}

	var page historyPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&page); err != nil {
		return Batch{}, fmt.Errorf("decode history page: %w", err)
	}

	batch := Batch{
		Next:     Checkpoint(page.Next),
		EndOfLog: page.End,
	}
	for _, e := range page.Entries {
		batch.Entries = append(batch.Entries, []byte(e))
	}
	return batch, nil
}
