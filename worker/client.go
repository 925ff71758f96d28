// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/tracery-project/tracery/lib/netutil"
	"github.com/tracery-project/tracery/lib/schema"
)

// Client is a JSON-RPC client for the edge worker API. It is safe for
// concurrent use; request IDs are drawn from an atomic counter.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a client for the server at baseURL, authenticating
// with the base64url-encoded worker token.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient}
}

// Call invokes one RPC method. Params must marshal to a JSON object.
// On success the result field is unmarshalled into result (which may
// be nil to discard it); on a JSON-RPC error the returned error is the
// server's [schema.RPCError].
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("rpc %s: encoding params: %w", method, err)
	}

	id := c.nextID.Add(1)
	body, err := json.Marshal(schema.RPCRequest{
		JSONRPC: schema.JSONRPCVersion,
		Method:  method,
		Params:  encodedParams,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
	})
	if err != nil {
		return fmt.Errorf("rpc %s: encoding request: %w", method, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+schema.RPCPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc %s: building request: %w", method, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: server returned %s: %s",
			method, response.Status, netutil.ErrorBody(response.Body))
	}

	var envelope schema.RPCResponse
	if err := netutil.DecodeResponse(response.Body, &envelope); err != nil {
		return fmt.Errorf("rpc %s: decoding response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc %s: %w", method, envelope.Error)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("rpc %s: decoding result: %w", method, err)
		}
	}
	return nil
}

// Health checks the server's unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+schema.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: server returned %s", response.Status)
	}
	return nil
}
