package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const httpSourceTimeout = 30 * time.Second

// HTTPSource fetches a single JSON manifest — an array of TaskDefinition —
// from manifestURL. Each entry's array index, zero-padded, stands in for a
// filesystem path since an HTTP manifest has no directory structure.
type HTTPSource struct {
	manifestURL string
	client      *http.Client
}

func NewHTTPSource(manifestURL string) *HTTPSource {
	return &HTTPSource{manifestURL: manifestURL, client: &http.Client{Timeout: httpSourceTimeout}}
}

func (s *HTTPSource) List(ctx context.Context) ([]TaskDefinition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: build manifest request: %w", err)
	}

	client := s.client
	if client == nil {
		client = &http.Client{Timeout: httpSourceTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: fetch manifest %s: %w", s.manifestURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: manifest %s returned HTTP %d", s.manifestURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("registry: read manifest body: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("registry: decode manifest array: %w", err)
	}

	defs := make([]TaskDefinition, 0, len(raw))
	for i, entry := range raw {
		var def TaskDefinition
		if err := json.Unmarshal(entry, &def); err != nil {
			return nil, fmt.Errorf("registry: decode manifest entry %d: %w", i, err)
		}
		def.Path = fmt.Sprintf("manifest-entry-%04d", i)
		def.ContentHash = contentHash(entry)
		defs = append(defs, def)
	}
	return defs, nil
}
