// Package mcp bridges the agent to tools served by external Model Context
// Protocol servers.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m4xw311/puck/config"
	"github.com/m4xw311/puck/errors"
)

// MCPClient manages the connection to a single MCP server.
type MCPClient struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools map[string]*mcpsdk.Tool
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, name, command string, args []string) (*MCPClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	client, err := Connect(ctx, name, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, err
	}
	client.cmd = cmd
	return client, nil
}

// Connect opens a session over transport and lists the server's tools.
func Connect(ctx context.Context, name string, transport mcpsdk.Transport) (*MCPClient, error) {
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "puck", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, transport)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{
		Name:  name,
		conn:  conn,
		tools: make(map[string]*mcpsdk.Tool),
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, params)
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range toolList.Tools {
			client.tools[t.Name] = t
		}
		if toolList.NextCursor == "" {
			break
		}
		params.Cursor = toolList.NextCursor
	}
	return client, nil
}

// ToolNames lists the server's tools, sorted.
func (c *MCPClient) ToolNames() []string {
	names := make([]string, 0, len(c.tools))
	for n := range c.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call invokes tool with args and joins the text content of the result.
func (c *MCPClient) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	if _, ok := c.tools[tool]; !ok {
		return "", errors.New("MCP server '%s' has no tool '%s'", c.Name, tool)
	}
	result, err := c.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", tool)
	}
	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' failed: %s", tool, sb.String())
	}
	return sb.String(), nil
}

// Stop closes the session and terminates the server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// Pool holds the clients of every configured server.
type Pool struct {
	clients map[string]*MCPClient
}

// NewPool wraps already connected clients.
func NewPool(clients ...*MCPClient) *Pool {
	p := &Pool{clients: make(map[string]*MCPClient)}
	for _, c := range clients {
		p.clients[c.Name] = c
	}
	return p
}

// Start launches every configured server. Servers that fail to start are
// logged and skipped.
func Start(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) *Pool {
	p := NewPool()
	for _, s := range servers {
		c, err := NewMCPClient(ctx, s.Name, s.Command, s.Args)
		if err != nil {
			logger.Warn("MCP server unavailable", "server", s.Name, "error", err)
			continue
		}
		logger.Info("MCP server connected", "server", s.Name, "tools", len(c.tools))
		p.clients[s.Name] = c
	}
	return p
}

// Empty reports whether no server is connected.
func (p *Pool) Empty() bool { return len(p.clients) == 0 }

// Call routes a tool call to server.
func (p *Pool) Call(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	c, ok := p.clients[server]
	if !ok {
		return "", errors.New("unknown MCP server '%s'", server)
	}
	return c.Call(ctx, tool, args)
}

// Describe lists "server tool: description" lines for the system prompt.
func (p *Pool) Describe() string {
	servers := make([]string, 0, len(p.clients))
	for name := range p.clients {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	var sb strings.Builder
	for _, name := range servers {
		c := p.clients[name]
		for _, tool := range c.ToolNames() {
			fmt.Fprintf(&sb, "%s %s: %s\n", name, tool, c.tools[tool].Description)
		}
	}
	return sb.String()
}

// Close stops every server.
func (p *Pool) Close() {
	for _, c := range p.clients {
		c.Stop()
	}
}
