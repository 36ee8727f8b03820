package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Response is the outcome of one RPC call. A cancelled call resolves with
// Aborted set instead of returning an error, so callers can tell supersession
// apart from transport faults without string-matching.
type Response struct {
	Result  map[string]interface{}
	Aborted bool
}

// Caller issues a single slim.request RPC against the server's jsonrpc.js
// endpoint. Implementations must honor context cancellation by resolving
// with Aborted rather than an error, and must never deliver a result body
// for an aborted call. Aborted is reserved for cancellation (supersession
// or shutdown); an expired deadline is a transport error, which callers
// treat as retryable.
type Caller interface {
	Send(ctx context.Context, params ConnectParams, target string, cmd []interface{}) (*Response, error)
}

// RPCClient is the HTTP implementation of Caller.
type RPCClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRPCClient creates an RPC client. Per-call deadlines come from the
// caller's context, so the underlying http.Client carries no timeout of
// its own.
func NewRPCClient(logger *zap.Logger) *RPCClient {
	return &RPCClient{
		httpClient: &http.Client{},
		logger:     logger.Named("rpc"),
	}
}

type rpcRequest struct {
	ID     int           `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcReply struct {
	Result map[string]interface{} `json:"result"`
}

// Send posts [target, cmd] to /jsonrpc.js and decodes the reply.
func (c *RPCClient) Send(ctx context.Context, params ConnectParams, target string, cmd []interface{}) (*Response, error) {
	body, err := json.Marshal(rpcRequest{
		ID:     1,
		Method: "slim.request",
		Params: []interface{}{target, cmd},
	})
	if err != nil {
		return nil, fmt.Errorf("rpc request marshal error: %w", err)
	}

	endpoint := fmt.Sprintf("http://%s/jsonrpc.js", params.Addr())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc request build error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if params.Username != "" {
		req.SetBasicAuth(params.Username, params.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isAborted(ctx, err) {
			return &Response{Aborted: true}, nil
		}
		return nil, fmt.Errorf("rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("rpc request failed: unexpected status %s", resp.Status)
	}

	var reply rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		if isAborted(ctx, err) {
			return &Response{Aborted: true}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	return &Response{Result: reply.Result}, nil
}

// isAborted reports whether err is due to the caller's context being
// cancelled, as opposed to a genuine transport failure.
func isAborted(ctx context.Context, err error) bool {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
