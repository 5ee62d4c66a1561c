package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
)

// maxBodySize limits how much of a response is read before it is discarded.
const maxBodySize = 4096

// Op names one kind of probe request.
type Op string

const (
	OpPut Op = "put"
	OpGet Op = "get"
)

// Event is the client_events.jsonl line of a single request.
type Event struct {
	Event  string `json:"event"`
	TS     int64  `json:"ts_ms"`
	RunID  string `json:"run_id"`
	Op     Op     `json:"op"`
	Node   string `json:"node_id"`
	RID    string `json:"rid"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// EventClientOp is the event type of probe lines.
const EventClientOp = "client_op"

type kvRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// do issues one KV request. Only a 200 counts as success; transport errors
// and timeouts are failures, never errors of the probe itself.
func do(ctx context.Context, client *http.Client, base, path, rid string, body kvRequest) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	u := base + path + "?rid=" + url.QueryEscape(rid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	return resp.StatusCode, nil
}
