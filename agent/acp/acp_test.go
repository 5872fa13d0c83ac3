package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/config"
	"github.com/m4xw311/puck/llm"
	"github.com/m4xw311/puck/session"
)

// testClient drives a running server over pipes.
type testClient struct {
	t     *testing.T
	in    *io.PipeWriter
	out   *bufio.Scanner
	done  chan error
	seq   int
	notes []map[string]any
}

func startServer(t *testing.T, opts Options) *testClient {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	c := &testClient{t: t, in: inW, out: bufio.NewScanner(outR), done: make(chan error, 1)}
	c.out.Buffer(make([]byte, 1024*1024), 1024*1024)
	go func() {
		err := Run(context.Background(), opts, inR, outW)
		outW.Close()
		c.done <- err
	}()
	return c
}

// call sends a request and returns its response, collecting the
// notifications that arrive before it.
func (c *testClient) call(method string, params any) map[string]any {
	c.t.Helper()
	c.seq++
	id := c.seq
	c.send(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	return c.await(id, method)
}

// await reads until the response to id arrives.
func (c *testClient) await(id int, method string) map[string]any {
	c.t.Helper()
	for c.out.Scan() {
		var msg map[string]any
		if err := json.Unmarshal(c.out.Bytes(), &msg); err != nil {
			c.t.Fatalf("server wrote invalid JSON %q: %v", c.out.Text(), err)
		}
		if _, ok := msg["method"]; ok {
			c.notes = append(c.notes, msg)
			continue
		}
		if fmt.Sprint(msg["id"]) == fmt.Sprint(id) {
			return msg
		}
	}
	c.t.Fatalf("server closed output before answering %s", method)
	return nil
}

func (c *testClient) send(v any) {
	c.t.Helper()
	data, _ := json.Marshal(v)
	if _, err := c.in.Write(append(data, '\n')); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

func (c *testClient) close() error {
	c.in.Close()
	for c.out.Scan() {
	}
	return <-c.done
}

// updates returns the session/update payloads of the given kind.
func (c *testClient) updates(kind string) []map[string]any {
	var found []map[string]any
	for _, n := range c.notes {
		params, _ := n["params"].(map[string]any)
		update, _ := params["update"].(map[string]any)
		if update["sessionUpdate"] == kind {
			found = append(found, update)
		}
	}
	return found
}

func mockAgents(t *testing.T, responses ...string) func(string) (*agent.Agent, error) {
	return func(cwd string) (*agent.Agent, error) {
		if cwd == "" {
			cwd = t.TempDir()
		}
		return agent.New(config.Default(), llm.NewMock(responses...), agent.WithWorkDir(cwd))
	}
}

func result(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	if resp["error"] != nil {
		t.Fatalf("unexpected error response: %v", resp["error"])
	}
	r, _ := resp["result"].(map[string]any)
	return r
}

func TestACPInit(t *testing.T) {
	c := startServer(t, Options{NewAgent: mockAgents(t)})

	init := result(t, c.call("initialize", map[string]any{
		"protocolVersion":    1,
		"clientCapabilities": map[string]any{"fs": map[string]bool{"readTextFile": true}},
	}))
	if init["protocolVersion"] != float64(1) {
		t.Errorf("protocolVersion = %v, want 1", init["protocolVersion"])
	}
	caps, _ := init["agentCapabilities"].(map[string]any)
	if caps["loadSession"] != false {
		t.Errorf("loadSession should be off without a store, got %v", caps["loadSession"])
	}

	if err := c.close(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestACPUnknownMethod(t *testing.T) {
	c := startServer(t, Options{NewAgent: mockAgents(t)})
	resp := c.call("fs/unknown", nil)
	e, _ := resp["error"].(map[string]any)
	if e["code"] != float64(codeMethodNotFound) {
		t.Errorf("expected method not found, got %v", resp)
	}
	if err := c.close(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestACPPrompt(t *testing.T) {
	c := startServer(t, Options{NewAgent: mockAgents(t, "📢 on it\n💻 echo hi")})

	sess := result(t, c.call("session/new", map[string]any{"cwd": t.TempDir(), "mcpServers": []any{}}))
	id, _ := sess["sessionId"].(string)
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("unexpected session id %q", id)
	}

	done := result(t, c.call("session/prompt", map[string]any{
		"sessionId": id,
		"prompt":    []map[string]any{{"type": "text", "text": "say hi"}},
	}))
	if done["stopReason"] != "end_turn" {
		t.Errorf("stopReason = %v, want end_turn", done["stopReason"])
	}

	chunks := c.updates("agent_message_chunk")
	if len(chunks) != 1 || chunks[0]["content"].(map[string]any)["text"] != "on it" {
		t.Errorf("expected the announcement as a message chunk, got %v", chunks)
	}
	calls := c.updates("tool_call")
	if len(calls) != 1 {
		t.Fatalf("expected one tool call, got %v", calls)
	}
	call := calls[0]["toolCall"].(map[string]any)
	if call["name"] != "💻" || call["args"] != "echo hi" {
		t.Errorf("unexpected tool call %v", call)
	}
	results := c.updates("tool_result")
	if len(results) != 1 {
		t.Fatalf("expected one tool result, got %v", results)
	}
	res := results[0]["toolResult"].(map[string]any)
	if res["toolCallId"] != call["id"] || !strings.Contains(res["result"].(string), "hi") {
		t.Errorf("unexpected tool result %v", res)
	}

	if err := c.close(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestACPPromptErrors(t *testing.T) {
	c := startServer(t, Options{NewAgent: mockAgents(t)})
	id := result(t, c.call("session/new", map[string]any{"cwd": t.TempDir()}))["sessionId"]

	tests := []struct {
		name   string
		params map[string]any
	}{
		{"unknown session", map[string]any{"sessionId": "nope", "prompt": []map[string]any{{"type": "text", "text": "x"}}}},
		{"empty prompt", map[string]any{"sessionId": id, "prompt": []map[string]any{{"type": "text", "text": "  "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.call("session/prompt", tt.params)
			e, _ := resp["error"].(map[string]any)
			if e["code"] != float64(codeInvalidParams) {
				t.Errorf("expected invalid params, got %v", resp)
			}
		})
	}
	if err := c.close(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestACPSessionLoad(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	opts := Options{NewAgent: mockAgents(t, "💻 echo hi"), Store: store}

	first := startServer(t, opts)
	init := result(t, first.call("initialize", map[string]any{"protocolVersion": 1}))
	if caps := init["agentCapabilities"].(map[string]any); caps["loadSession"] != true {
		t.Errorf("loadSession should be on with a store")
	}
	id := result(t, first.call("session/new", map[string]any{"cwd": t.TempDir()}))["sessionId"].(string)
	result(t, first.call("session/prompt", map[string]any{
		"sessionId": id,
		"prompt":    []map[string]any{{"type": "text", "text": "say hi"}},
	}))
	if err := first.close(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	second := startServer(t, opts)
	second.call("session/load", map[string]any{"sessionId": id, "cwd": t.TempDir()})
	users := second.updates("user_message_chunk")
	if len(users) == 0 || users[0]["content"].(map[string]any)["text"] != "say hi" {
		t.Errorf("expected the request to be replayed first, got %v", users)
	}
	var echoed bool
	for _, u := range second.updates("agent_message_chunk") {
		if u["content"].(map[string]any)["text"] == "💻 echo hi" {
			echoed = true
		}
	}
	if !echoed {
		t.Errorf("expected the shell command to be replayed, got %v", second.notes)
	}

	resp := second.call("session/load", map[string]any{"sessionId": "missing"})
	if resp["error"] == nil {
		t.Errorf("loading an unknown session should fail")
	}
	if err := second.close(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestRunNeedsFactory(t *testing.T) {
	if err := Run(context.Background(), Options{}, strings.NewReader(""), io.Discard); err == nil {
		t.Fatal("expected an error without an agent factory")
	}
}

func TestExtractUserTextWithResourceLink(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.txt")
	testContent := "This is test file content"
	if err := os.WriteFile(testFile, []byte(testContent), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	fileURI := "file://" + testFile

	tests := []struct {
		name     string
		blocks   []contentBlock
		expected string
		contains []string
	}{
		{
			name: "text only",
			blocks: []contentBlock{
				{Type: "text", Text: "Hello"},
				{Type: "text", Text: "World"},
			},
			expected: "Hello\nWorld",
		},
		{
			name: "resource_link with file",
			blocks: []contentBlock{
				{Type: "text", Text: "Check this file:"},
				{
					Type:        "resource_link",
					URI:         fileURI,
					Name:        "test.txt",
					MimeType:    "text/plain",
					Title:       "Test File",
					Description: "A test file",
				},
			},
			contains: []string{
				"Check this file:",
				"=== Resource: test.txt ===",
				"Title: Test File",
				"Description: A test file",
				"URI: file://",
				"Type: text/plain",
				"--- File Contents ---",
				testContent,
				"--- End of File ---",
			},
		},
		{
			name: "missing file",
			blocks: []contentBlock{
				{Type: "resource_link", URI: "file://" + filepath.Join(t.TempDir(), "gone.txt"), Name: "gone.txt"},
			},
			contains: []string{"[Error reading file:"},
		},
		{
			name: "resource_link with non-file URI",
			blocks: []contentBlock{
				{
					Type:     "resource_link",
					URI:      "https://example.com/file.txt",
					Name:     "remote.txt",
					MimeType: "text/plain",
				},
			},
			contains: []string{
				"=== Resource: remote.txt ===",
				"URI: https://example.com/file.txt",
				"[External resource - content not available]",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractUserText(tt.blocks)
			if tt.expected != "" && result != tt.expected {
				t.Errorf("extractUserText() = %q, want %q", result, tt.expected)
			}
			for _, substr := range tt.contains {
				if !strings.Contains(result, substr) {
					t.Errorf("extractUserText() result does not contain %q\nGot: %q", substr, result)
				}
			}
		})
	}
}

func TestACPCancelRightAfterPrompt(t *testing.T) {
	endless := func(cwd string) (*agent.Agent, error) {
		m := llm.NewMock()
		m.Fallback = "📬 keep going"
		return agent.New(config.Default(), m, agent.WithWorkDir(cwd))
	}
	c := startServer(t, Options{NewAgent: endless})
	id := result(t, c.call("session/new", map[string]any{"cwd": t.TempDir()}))["sessionId"]

	c.seq++
	promptID := c.seq
	c.send(map[string]any{"jsonrpc": "2.0", "id": promptID, "method": "session/prompt", "params": map[string]any{
		"sessionId": id,
		"prompt":    []map[string]any{{"type": "text", "text": "loop forever"}},
	}})
	c.send(map[string]any{"jsonrpc": "2.0", "method": "session/cancel", "params": map[string]any{"sessionId": id}})

	done := result(t, c.await(promptID, "session/prompt"))
	if done["stopReason"] != "cancelled" {
		t.Errorf("stopReason = %v, want cancelled", done["stopReason"])
	}
	if err := c.close(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestACPCancelWithoutPromptIsForgotten(t *testing.T) {
	c := startServer(t, Options{NewAgent: mockAgents(t, "🏁")})
	id := result(t, c.call("session/new", map[string]any{"cwd": t.TempDir()}))["sessionId"]

	c.send(map[string]any{"jsonrpc": "2.0", "method": "session/cancel", "params": map[string]any{"sessionId": id}})
	done := result(t, c.call("session/prompt", map[string]any{
		"sessionId": id,
		"prompt":    []map[string]any{{"type": "text", "text": "finish"}},
	}))
	if done["stopReason"] != "end_turn" {
		t.Errorf("stopReason = %v, want end_turn", done["stopReason"])
	}
	if err := c.close(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}
