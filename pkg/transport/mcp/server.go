// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/transport"
)

// NewServer exposes every operation of svc as an MCP tool.
func NewServer(name, version string, svc transport.Service) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, spec := range svc.Operations() {
		opName := spec.Name
		s.AddTool(Tool(spec), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			resp := svc.Invoke(ctx, transport.InvokeRequest{
				OperationName: opName,
				Arguments:     request.GetArguments(),
			})
			if !resp.OK() {
				return mcp.NewToolResultError(resp.ErrorMessage), nil
			}
			result := &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(transport.PayloadText(resp.Payload))},
			}
			if _, isText := resp.Payload.(string); !isText && resp.Payload != nil {
				result.StructuredContent = resp.Payload
			}
			return result, nil
		})
	}
	return s
}

// NewHTTPHandler serves s over streamable HTTP.
func NewHTTPHandler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s)
}

// Tool builds the MCP tool definition for an operation.
func Tool(spec transport.OperationSpec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}
	for i, p := range spec.Parameters {
		props := []mcp.PropertyOption{position(i)}
		if p.Description != "" {
			props = append(props, mcp.Description(p.Description))
		}
		if p.Required {
			props = append(props, mcp.Required())
		}
		typ, _ := catalog.ParseParamType(p.Type)
		switch typ {
		case catalog.TypeNumber:
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		case catalog.TypeInteger:
			opts = append(opts, mcp.WithNumber(p.Name, append(props, schemaType("integer"))...))
		case catalog.TypeBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, props...))
		default:
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	return mcp.NewTool(spec.Name, opts...)
}

func position(i int) mcp.PropertyOption {
	return func(schema map[string]interface{}) {
		schema[positionKey] = i
	}
}

func schemaType(t string) mcp.PropertyOption {
	return func(schema map[string]interface{}) {
		schema["type"] = t
	}
}
