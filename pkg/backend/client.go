// Package backend talks to the external job-processing system: it submits
// workflow definitions over HTTP and follows the system's notification feed
// over a websocket, applying every notification to the store as an upsert
// or removal keyed by entity ID.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"forgedash/pkg/protocol"

	"github.com/pkg/errors"
)

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 4 << 10

// Client submits workflows to the backend. It implements
// dispatcher.Submitter.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the backend at baseURL (for example
// http://localhost:8080). A zero timeout means 10 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Submit posts def to {baseURL}/workflow.
//
// A 400, 409 or 422 answer means the backend rejected the definition and is
// reported as a *protocol.DagError. Any other failure, including transport
// errors, timeouts and 5xx answers, is a *protocol.BackendError. A success
// without a workflow_id yields an empty SubmitResponse.WorkflowID.
func (c *Client) Submit(ctx context.Context, def protocol.DAGDefinition) (protocol.SubmitResponse, error) {
	const op = "submit workflow"
	var out protocol.SubmitResponse

	body, err := json.Marshal(def)
	if err != nil {
		return out, errors.Wrap(err, "encode workflow definition")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workflow", bytes.NewReader(body))
	if err != nil {
		return out, &protocol.BackendError{Op: op, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return out, &protocol.BackendError{Op: op, Err: errors.Wrap(err, "post workflow")}
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, &protocol.BackendError{Op: op, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read response")}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(data)) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return out, &protocol.BackendError{Op: op, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode response")}
		}
		return out, nil
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return out, &protocol.DagError{Reason: "rejected by backend: " + errorMessage(data, resp.Status)}
	default:
		return out, &protocol.BackendError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(errorMessage(data, resp.Status))}
	}
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from a
// failed response, falling back to the raw body or the status line.
func errorMessage(data []byte, status string) string {
	var doc struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &doc) == nil {
		if doc.Error != "" {
			return doc.Error
		}
		if doc.Message != "" {
			return doc.Message
		}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return status
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return fmt.Sprintf("%s: %s", status, text)
}
