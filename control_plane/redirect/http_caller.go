package redirect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// InvokePath is the internal endpoint that executes a forwarded query.
	InvokePath = "/internal/v1/invoke"

	// TokenHeader carries the shared cluster token on internal calls.
	TokenHeader = "X-Fleet-Cluster-Token"

	// RequestIDHeader correlates a forward across both nodes' logs.
	RequestIDHeader = "X-Fleet-Request-ID"
)

// InvokeResponse is the body returned by InvokePath.
type InvokeResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HTTPCaller forwards queries to peers over HTTP. Node ids are base URLs.
type HTTPCaller struct {
	Client *http.Client
	Token  string
}

// NewHTTPCaller creates a caller. Timeouts come from the request context.
func NewHTTPCaller(token string) *HTTPCaller {
	return &HTTPCaller{
		Client: &http.Client{},
		Token:  token,
	}
}

func (c *HTTPCaller) CallRemote(ctx context.Context, nodeID string, q Query) (json.RawMessage, error) {
	reqBody, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL(nodeID)+InvokePath, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if c.Token != "" {
		req.Header.Set(TokenHeader, c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read answer from %s: %w", nodeID, err)
	}

	var out InvokeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &RemoteError{Status: resp.StatusCode, Code: "http_error", Message: strings.TrimSpace(string(body))}
		}
		return nil, fmt.Errorf("decode answer from %s: %w", nodeID, err)
	}
	if resp.StatusCode >= 300 || out.Error != "" {
		return nil, &RemoteError{Status: resp.StatusCode, Code: out.Code, Message: out.Error}
	}
	return out.Result, nil
}

func nodeURL(nodeID string) string {
	nodeID = strings.TrimRight(nodeID, "/")
	if strings.HasPrefix(nodeID, "http://") || strings.HasPrefix(nodeID, "https://") {
		return nodeID
	}
	return "http://" + nodeID
}
