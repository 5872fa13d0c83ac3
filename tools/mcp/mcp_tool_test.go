package mcp

import (
	"context"
	"fmt"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/puck/config"
	"github.com/m4xw311/puck/logging"
)

func TestEmptyPool(t *testing.T) {
	p := NewPool()
	assert.True(t, p.Empty())
	assert.Empty(t, p.Describe())

	_, err := p.Call(context.Background(), "search", "query", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown MCP server 'search'")
	p.Close()
}

func TestStartSkipsBrokenServers(t *testing.T) {
	p := Start(context.Background(), []config.MCPServer{
		{Name: "ghost", Command: "/nonexistent/mcp-server"},
	}, logging.NewNop())
	defer p.Close()
	assert.True(t, p.Empty())
}

func TestUnknownTool(t *testing.T) {
	c := &MCPClient{Name: "files"}
	_, err := c.Call(context.Background(), "delete", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no tool 'delete'")
	assert.NoError(t, c.Stop())
}

type greetArgs struct {
	Name string `json:"name"`
}

// serveGreeter connects a client named name to an in-process server with
// a greet tool and a tool that always fails.
func serveGreeter(t *testing.T, name string) *MCPClient {
	t.Helper()
	ctx := context.Background()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "greeter", Version: "v0.0.1"}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "greet", Description: "say hi"},
		func(_ context.Context, _ *mcpsdk.ServerSession, p *mcpsdk.CallToolParamsFor[greetArgs]) (*mcpsdk.CallToolResultFor[any], error) {
			return &mcpsdk.CallToolResultFor[any]{Content: []mcpsdk.Content{
				&mcpsdk.TextContent{Text: "hi "},
				&mcpsdk.TextContent{Text: p.Arguments.Name},
			}}, nil
		})
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "explode", Description: "always fails"},
		func(context.Context, *mcpsdk.ServerSession, *mcpsdk.CallToolParamsFor[greetArgs]) (*mcpsdk.CallToolResultFor[any], error) {
			return nil, fmt.Errorf("boom")
		})

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	c, err := Connect(ctx, name, clientTransport)
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestConnectListsTools(t *testing.T) {
	c := serveGreeter(t, "hello")
	assert.Equal(t, []string{"explode", "greet"}, c.ToolNames())

	p := NewPool(c)
	assert.False(t, p.Empty())
	assert.Equal(t, "hello explode: always fails\nhello greet: say hi\n", p.Describe())
}

func TestPoolCall(t *testing.T) {
	p := NewPool(serveGreeter(t, "hello"))
	ctx := context.Background()

	out, err := p.Call(ctx, "hello", "greet", map[string]any{"name": "puck"})
	require.NoError(t, err)
	assert.Equal(t, "hi puck", out)

	_, err = p.Call(ctx, "hello", "explode", map[string]any{"name": "puck"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool 'explode' failed: boom")

	_, err = p.Call(ctx, "hello", "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no tool 'missing'")
}
