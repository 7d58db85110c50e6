// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package grpcx carries discovery and invocation calls over gRPC using the
// meshwork.v1.OperationService service. Messages are google.protobuf.Struct
// values shaped like the JSON wire types in package transport.
package grpcx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jllopis/meshwork/pkg/transport"
)

// Name is the transport name used in endpoints and configuration.
const Name = "grpc"

const (
	serviceName          = "meshwork.v1.OperationService"
	listOperationsMethod = "/" + serviceName + "/ListOperations"
	invokeMethod         = "/" + serviceName + "/Invoke"
)

// Option configures a Client.
type Option func(*Client)

// WithDialOptions appends dial options used for every connection.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

// Client is the gRPC transport. Connections are opened lazily and reused
// per address until Close.
type Client struct {
	mu       sync.Mutex
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
}

// New returns a client using plaintext credentials unless opts override them.
func New(opts ...Option) *Client {
	c := &Client{
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
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
	conn, err := c.conn(address)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := conn.Invoke(injectTraceContext(ctx), listOperationsMethod, &structpb.Struct{}, out); err != nil {
		return nil, classify("list operations", err)
	}
	var ops []transport.OperationSpec
	raw, ok := out.GetFields()["operations"]
	if !ok {
		return nil, transport.Application("operations field missing from response", nil)
	}
	if err := fromValue(raw, &ops); err != nil {
		return nil, transport.Application("decode operations", err)
	}
	return ops, nil
}

// Invoke implements transport.Transport.
func (c *Client) Invoke(ctx context.Context, address string, req transport.InvokeRequest) (*transport.InvokeResponse, error) {
	conn, err := c.conn(address)
	if err != nil {
		return nil, err
	}
	in, err := toStruct(req)
	if err != nil {
		return nil, transport.Application("encode invoke request", err)
	}
	out := &structpb.Struct{}
	if err := conn.Invoke(injectTraceContext(ctx), invokeMethod, in, out); err != nil {
		return nil, classify("invoke "+req.OperationName, err)
	}
	var resp transport.InvokeResponse
	if err := fromValue(structpb.NewStructValue(out), &resp); err != nil {
		return nil, transport.Application("decode invoke response", err)
	}
	if resp.Status != transport.StatusOK && resp.Status != transport.StatusError {
		return nil, transport.Application(fmt.Sprintf("unknown invoke status %q", resp.Status), nil)
	}
	return &resp, nil
}

// Close closes every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.conns, addr)
	}
	return first
}

func (c *Client) conn(address string) (*grpc.ClientConn, error) {
	target := Target(address)
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target, c.dialOpts...)
	if err != nil {
		return nil, transport.Application("invalid grpc address "+address, err)
	}
	c.conns[target] = conn
	return conn, nil
}

// Target turns a grpc://host:port address into a dial target.
func Target(address string) string {
	addr := strings.TrimSpace(address)
	addr = strings.TrimPrefix(addr, "grpc://")
	addr = strings.TrimRight(addr, "/")
	if strings.Contains(addr, ":///") {
		return addr
	}
	return "passthrough:///" + addr
}

// classify maps gRPC status codes: Unavailable, DeadlineExceeded,
// ResourceExhausted, Aborted and Canceled are transient.
func classify(msg string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Canceled:
		return transport.Transient(msg, err).WithContext("grpc_code", status.Code(err).String())
	default:
		return transport.Application(msg, err).WithContext("grpc_code", status.Code(err).String())
	}
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func toValue(v interface{}) (*structpb.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var plain interface{}
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, err
	}
	return structpb.NewValue(plain)
}

func fromValue(v *structpb.Value, out interface{}) error {
	data, err := json.Marshal(v.AsInterface())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func injectTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.MD{}
	} else {
		md = md.Copy()
	}
	otel.GetTextMapPropagator().Inject(ctx, metadataCarrier{md: md})
	return metadata.NewOutgoingContext(ctx, md)
}

func extractTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, metadataCarrier{md: md})
}

type metadataCarrier struct {
	md metadata.MD
}

func (c metadataCarrier) Get(key string) string {
	values := c.md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (c metadataCarrier) Set(key, value string) {
	c.md.Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c.md))
	for key := range c.md {
		keys = append(keys, key)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}
