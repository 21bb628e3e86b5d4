package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// BulkRequest is one call inside a bulk request. Endpoint is absolute,
// including the /api prefix.
type BulkRequest struct {
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
	Data     any    `json:"data,omitempty"`
}

// BulkResponse holds one envelope per request, in order.
type BulkResponse struct {
	Success bool       `json:"success"`
	Data    []Envelope `json:"data"`
}

// Failed returns the indexes of unsuccessful calls.
func (r *BulkResponse) Failed() []int {
	var out []int
	for i, env := range r.Data {
		if !env.Success {
			out = append(out, i)
		}
	}
	return out
}

// Decode unmarshals the data of call i into out. It is a no-op for failed
// calls.
func (r *BulkResponse) Decode(i int, out any) error {
	if i < 0 || i >= len(r.Data) {
		return fmt.Errorf("bulk response has no item %d", i)
	}
	env := r.Data[i]
	if !env.Success || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// Bulk sends several calls in one request.
func (c *Client) Bulk(ctx context.Context, reqs []BulkRequest) (*BulkResponse, error) {
	var resp BulkResponse
	if err := c.Do(ctx, http.MethodPost, "bulk", map[string]any{"data": reqs}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(reqs) {
		return &resp, fmt.Errorf("bulk response has %d items, want %d", len(resp.Data), len(reqs))
	}
	return &resp, nil
}
