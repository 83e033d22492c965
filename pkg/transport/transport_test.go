package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/dispatch"
	"github.com/entrhq/pilot/pkg/driver"
	"github.com/entrhq/pilot/pkg/engine/enginetest"
	"github.com/entrhq/pilot/pkg/session"
)

// connect serves tr over an in-memory pipe and returns the client side.
func connect(t *testing.T, tr *Transport) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverSide, clientSide := mcp.NewInMemoryTransports()

	ss, err := tr.Server().Connect(ctx, serverSide, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientSide, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func newDispatch(t *testing.T) *dispatch.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Screenshot.Dir = t.TempDir()
	srv := dispatch.New(cfg, session.NewRegistry(), []driver.Driver{
		driver.NewWeb(&enginetest.Launcher{}, cfg, nil),
		driver.NewElectron(&enginetest.Launcher{}, cfg, nil),
	})
	t.Cleanup(func() { _ = srv.CloseAll(context.Background()) })
	return srv
}

func text(t *testing.T, res *mcp.CallToolResult, i int) string {
	t.Helper()
	require.Greater(t, len(res.Content), i)
	tc, ok := res.Content[i].(*mcp.TextContent)
	require.True(t, ok, "content %d is %T", i, res.Content[i])
	return tc.Text
}

func TestToolsAreListed(t *testing.T) {
	srv := newDispatch(t)
	cs := connect(t, New(srv, WithName("pilot-test")))

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make(map[string]bool, len(res.Tools))
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	assert.Len(t, res.Tools, len(srv.Operations()))
	assert.True(t, names["launch"])
	assert.True(t, names["invokeIPC"])
	assert.True(t, names["exportScript"])
}

func TestLaunchAndCloseOverMCP(t *testing.T) {
	cs := connect(t, New(newDispatch(t)))
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "launch", Arguments: map[string]any{"url": "https://example.com"}})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res, 0))

	var info session.Info
	require.NoError(t, json.Unmarshal([]byte(text(t, res, 0)), &info))
	assert.Equal(t, session.KindWeb, info.Kind)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "click", Arguments: map[string]any{"sessionId": info.ID, "selector": "#go"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "close", Arguments: map[string]any{"sessionId": info.ID}})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "click", Arguments: map[string]any{"sessionId": info.ID, "selector": "#go"}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res, 0), "not found")
}

func TestScreenshotReturnsImage(t *testing.T) {
	cs := connect(t, New(newDispatch(t)))
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "launch"})
	require.NoError(t, err)
	var info session.Info
	require.NoError(t, json.Unmarshal([]byte(text(t, res, 0)), &info))

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "screenshot", Arguments: map[string]any{"sessionId": info.ID}})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 2)
	img, ok := res.Content[1].(*mcp.ImageContent)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.NotEmpty(t, img.Data)
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", raw: "", want: map[string]any{}},
		{name: "null", raw: "null", want: map[string]any{}},
		{name: "object", raw: `{"selector":"#a","timeout":500}`, want: map[string]any{"selector": "#a", "timeout": 500.0}},
		{name: "array", raw: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeArguments(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToResult(t *testing.T) {
	resp := &dispatch.Response{
		IsError: true,
		Content: []dispatch.Content{
			{Type: "text", Text: "click failed: boom"},
			{Type: "image", Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"},
		},
	}
	res := toResult(resp)
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 2)
	assert.Equal(t, "click failed: boom", res.Content[0].(*mcp.TextContent).Text)
	assert.Equal(t, "image/png", res.Content[1].(*mcp.ImageContent).MIMEType)
}
