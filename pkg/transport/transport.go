// Package transport exposes a dispatch server as an MCP tool server.
//
// Each dispatch operation becomes one tool whose input schema is the
// operation's argument schema. Results and failures both travel as tool
// results with IsError set on failure.
//
// Example usage:
//
//	srv := dispatch.New(cfg, session.NewRegistry(), drivers)
//	t := transport.New(srv, transport.WithName("pilot"))
//	if err := t.Run(ctx, &mcp.StdioTransport{}); err != nil {
//	    log.Fatal(err)
//	}
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/entrhq/pilot/pkg/dispatch"
	"github.com/entrhq/pilot/pkg/logging"
)

const defaultName = "pilot"

// Caller is the dispatch surface the transport needs.
type Caller interface {
	Operations() []dispatch.Operation
	Call(ctx context.Context, name string, arguments map[string]any) *dispatch.Response
}

// Transport serves a Caller over MCP.
type Transport struct {
	caller  Caller
	name    string
	version string
	log     *logging.Logger
	server  *mcp.Server
}

// Option configures a Transport.
type Option func(*Transport)

// WithName overrides the server name announced to clients.
func WithName(name string) Option {
	return func(t *Transport) {
		if name != "" {
			t.name = name
		}
	}
}

// WithVersion sets the version announced to clients.
func WithVersion(version string) Option {
	return func(t *Transport) { t.version = version }
}

// WithLogger sets the transport's logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// New registers every operation of caller as an MCP tool.
func New(caller Caller, opts ...Option) *Transport {
	t := &Transport{
		caller:  caller,
		name:    defaultName,
		version: "dev",
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.server = mcp.NewServer(&mcp.Implementation{Name: t.name, Version: t.version}, nil)
	for _, op := range caller.Operations() {
		t.server.AddTool(&mcp.Tool{
			Name:        op.Name,
			Description: op.Description,
			InputSchema: op.Schema,
		}, t.handler(op.Name))
	}
	t.log.Infof("Registered %d tools as %s %s", len(caller.Operations()), t.name, t.version)
	return t
}

// Server returns the underlying MCP server.
func (t *Transport) Server() *mcp.Server { return t.server }

// Run serves a single client over mt until the client disconnects or ctx is
// cancelled. A cancelled context is a clean shutdown.
func (t *Transport) Run(ctx context.Context, mt mcp.Transport) error {
	err := t.server.Run(ctx, mt)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (t *Transport) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArguments(req.Params.Arguments)
		if err != nil {
			t.log.Warnf("Rejected %s call: %v", name, err)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("invalid call to %q: %v", name, err)}},
				IsError: true,
			}, nil
		}
		return toResult(t.caller.Call(ctx, name, args)), nil
	}
}

// decodeArguments turns the raw argument object into a map. Numbers decode as
// float64, the same as any other JSON client.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

func toResult(resp *dispatch.Response) *mcp.CallToolResult {
	result := &mcp.CallToolResult{IsError: resp.IsError, Content: make([]mcp.Content, 0, len(resp.Content))}
	for _, c := range resp.Content {
		switch c.Type {
		case "image":
			result.Content = append(result.Content, &mcp.ImageContent{Data: c.Data, MIMEType: c.MIMEType})
		default:
			result.Content = append(result.Content, &mcp.TextContent{Text: c.Text})
		}
	}
	return result
}
