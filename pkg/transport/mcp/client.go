// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp carries discovery and invocation calls over the Model Context
// Protocol: a service's tools are its operations, ListTools discovers them
// and CallTool invokes one.
package mcp

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/meshwork/pkg/transport"
)

// Name is the transport name used in endpoints and configuration.
const Name = "mcp"

// positionKey records declaration order in a property schema, since JSON
// schema properties are unordered.
const positionKey = "x-position"

// ClientOption customizes the MCP transport.
type ClientOption func(*Client)

// WithProtocolVersion sets the protocol version sent on initialize.
func WithProtocolVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.protocolVersion = version
		}
	}
}

// WithClientInfo sets the implementation info sent on initialize.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.info = mcp.Implementation{Name: name, Version: version}
	}
}

// Client is the MCP transport. One initialized session is kept per server
// URL and dropped after a transient failure so the next call reconnects.
type Client struct {
	protocolVersion string
	info            mcp.Implementation

	mu       sync.Mutex
	sessions map[string]*client.Client
}

// NewClient returns an MCP transport.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		protocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		info:            mcp.Implementation{Name: "meshwork", Version: "0.1.0"},
		sessions:        make(map[string]*client.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements transport.Transport.
func (c *Client) Name() string { return Name }

// ListOperations implements transport.Transport.
func (c *Client) ListOperations(ctx context.Context, address string) ([]transport.OperationSpec, error) {
	session, err := c.session(ctx, address)
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, c.classify(address, "list tools", err)
	}
	specs := make([]transport.OperationSpec, 0, len(res.Tools))
	for _, tool := range res.Tools {
		specs = append(specs, toolSpec(tool))
	}
	return specs, nil
}

// Invoke implements transport.Transport. Tool results flagged IsError
// become error-status responses.
func (c *Client) Invoke(ctx context.Context, address string, in transport.InvokeRequest) (*transport.InvokeResponse, error) {
	session, err := c.session(ctx, address)
	if err != nil {
		return nil, err
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = in.OperationName
	req.Params.Arguments = in.Arguments
	res, err := session.CallTool(ctx, req)
	if err != nil {
		return nil, c.classify(address, "call tool "+in.OperationName, err)
	}
	if res == nil {
		return nil, transport.Application("empty tool result", nil)
	}
	text := extractText(res.Content)
	if res.IsError {
		return &transport.InvokeResponse{Status: transport.StatusError, ErrorMessage: text}, nil
	}
	if res.StructuredContent != nil {
		return &transport.InvokeResponse{Status: transport.StatusOK, Payload: res.StructuredContent}, nil
	}
	return &transport.InvokeResponse{Status: transport.StatusOK, Payload: text}, nil
}

// Close closes every open session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for url, s := range c.sessions {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.sessions, url)
	}
	return first
}

func (c *Client) session(ctx context.Context, address string) (*client.Client, error) {
	url := HTTPURL(address)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[url]; ok {
		return s, nil
	}
	s, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, transport.Application("invalid mcp address "+address, err)
	}
	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		_ = s.Close()
		return nil, transport.Transient("start mcp session", err)
	}
	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = c.protocolVersion
	init.Params.ClientInfo = c.info
	if _, err := s.Initialize(ctx, init); err != nil {
		_ = s.Close()
		return nil, transport.Transient("initialize mcp session", err)
	}
	c.sessions[url] = s
	return s, nil
}

func (c *Client) drop(address string) {
	url := HTTPURL(address)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[url]; ok {
		_ = s.Close()
		delete(c.sessions, url)
	}
}

// classify treats network failures, cancellations and gateway statuses as
// transient; everything else the server said is an application error.
func (c *Client) classify(address, msg string, err error) error {
	if isTransient(err) {
		c.drop(address)
		return transport.Transient(msg, err)
	}
	return transport.Application(msg, err)
}

func isTransient(err error) bool {
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		return true
	case stderrors.Is(err, io.EOF), stderrors.Is(err, io.ErrUnexpectedEOF):
		return true
	case stderrors.As(err, &netErr):
		return true
	}
	text := err.Error()
	for _, code := range []string{"429", "502", "503", "504"} {
		if strings.Contains(text, "status "+code) {
			return true
		}
	}
	return false
}

// HTTPURL turns mcp://, mcp+http:// and mcp+https:// addresses into the
// server's HTTP URL.
func HTTPURL(address string) string {
	addr := strings.TrimSpace(address)
	lower := strings.ToLower(addr)
	switch {
	case strings.HasPrefix(lower, "mcp+"):
		return addr[len("mcp+"):]
	case strings.HasPrefix(lower, "mcp://"):
		return "http://" + addr[len("mcp://"):]
	default:
		return addr
	}
}

func toolSpec(tool mcp.Tool) transport.OperationSpec {
	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
	}
	params := make([]transport.ParameterSpec, 0, len(tool.InputSchema.Properties))
	positions := make(map[string]float64, len(tool.InputSchema.Properties))
	for name, raw := range tool.InputSchema.Properties {
		p := transport.ParameterSpec{Name: name, Type: "string", Required: required[name]}
		positions[name] = -1
		if prop, ok := raw.(map[string]interface{}); ok {
			if typ, ok := prop["type"].(string); ok && typ != "" {
				p.Type = typ
			}
			if desc, ok := prop["description"].(string); ok {
				p.Description = desc
			}
			if pos, ok := prop[positionKey].(float64); ok {
				positions[name] = pos
			} else if pos, ok := prop[positionKey].(int); ok {
				positions[name] = float64(pos)
			}
		}
		params = append(params, p)
	}
	sort.SliceStable(params, func(i, j int) bool {
		a, b := params[i], params[j]
		pa, pb := positions[a.Name], positions[b.Name]
		if pa >= 0 && pb >= 0 && pa != pb {
			return pa < pb
		}
		if (pa >= 0) != (pb >= 0) {
			return pa >= 0
		}
		if a.Required != b.Required {
			return a.Required
		}
		return a.Name < b.Name
	})
	return transport.OperationSpec{Name: tool.Name, Description: tool.Description, Parameters: params}
}

func extractText(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ transport.Transport = (*Client)(nil)
