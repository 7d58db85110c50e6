// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpjson carries discovery and invocation calls as JSON over
// HTTP: GET {base}/operations lists operations and POST {base}/invoke runs
// one.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jllopis/meshwork/pkg/transport"
)

// Name is the transport name used in endpoints and configuration.
const Name = "http"

const maxBody = 4 << 20

// Client is the HTTP/JSON transport.
type Client struct {
	HTTP *http.Client
}

// New returns a client using hc, or http.DefaultClient when nil.
func New(hc *http.Client) *Client {
	return &Client{HTTP: hc}
}

// Name implements transport.Transport.
func (c *Client) Name() string { return Name }

// ListOperations implements transport.Transport.
func (c *Client) ListOperations(ctx context.Context, address string) ([]transport.OperationSpec, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, join(address, "operations"), nil)
	if err != nil {
		return nil, transport.Application("build discovery request", err)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, transport.Transient("list operations", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, transport.Transient("read operations", err)
	}
	if err := classifyStatus(resp, body); err != nil {
		return nil, err
	}
	var out []transport.OperationSpec
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, transport.Application("decode operations", err)
	}
	return out, nil
}

// Invoke implements transport.Transport.
func (c *Client) Invoke(ctx context.Context, address string, in transport.InvokeRequest) (*transport.InvokeResponse, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, transport.Application("encode invoke request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, join(address, "invoke"), bytes.NewReader(payload))
	if err != nil {
		return nil, transport.Application("build invoke request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, transport.Transient("invoke "+in.OperationName, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, transport.Transient("read invoke response", err)
	}
	if err := classifyStatus(resp, body); err != nil {
		return nil, err
	}
	var out transport.InvokeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, transport.Application("decode invoke response", err)
	}
	if out.Status != transport.StatusOK && out.Status != transport.StatusError {
		return nil, transport.Application(fmt.Sprintf("unknown invoke status %q", out.Status), nil)
	}
	return &out, nil
}

func (c *Client) http() *http.Client {
	if c != nil && c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// classifyStatus maps non-2xx responses: 429, 502, 503 and 504 are
// transient, every other failure status is an application error.
func classifyStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := fmt.Sprintf("service answered %s", resp.Status)
	var detail transport.InvokeResponse
	if json.Unmarshal(body, &detail) == nil && detail.ErrorMessage != "" {
		msg += ": " + detail.ErrorMessage
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return transport.Transient(msg, nil).WithContext("status_code", resp.StatusCode)
	default:
		return transport.Application(msg, nil).WithContext("status_code", resp.StatusCode)
	}
}

func join(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + path
}
