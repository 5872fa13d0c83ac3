package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/engine"
	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/logging"
	"github.com/m4xw311/puck/protocol"
	"github.com/m4xw311/puck/session"
)

// Options configures Run.
type Options struct {
	// NewAgent builds the agent serving a session rooted at cwd. An empty
	// cwd means the process working directory.
	NewAgent func(cwd string) (*agent.Agent, error)
	// Store keeps one transcript per ACP session for session/load. Optional.
	Store session.Store
	// Logger receives protocol traces. Nothing but JSON-RPC is ever
	// written to out.
	Logger *slog.Logger
}

// Run serves the Agent Client Protocol over newline-delimited JSON-RPC:
// initialize, session/new, session/load, session/prompt and the
// session/cancel notification. Prompts run concurrently with the read loop
// so that a cancel can reach the active run. Run returns at end of input
// once every prompt has been answered.
func Run(ctx context.Context, opts Options, in io.Reader, out io.Writer) error {
	if opts.NewAgent == nil {
		return errors.Wrapf(errors.ErrMissingPrecondition, "ACP server needs an agent factory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &acpServer{
		ctx:      ctx,
		opts:     opts,
		logger:   logger.With("component", "acp"),
		sessions: make(map[string]*acpSession),
		reader:   bufio.NewReader(in),
		writer:   bufio.NewWriter(out),
	}
	defer s.prompts.Wait()

	for {
		payload, err := s.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				s.logger.Debug("EOF received, exiting")
				return nil
			}
			// If framing is broken, there isn't a safe way to continue.
			return errors.Wrapf(err, "ACP: read error")
		}
		if len(payload) == 0 {
			continue
		}

		s.logger.Debug("received", "payload", string(payload))
		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Debug("JSON parse error", "error", err)
			_ = s.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}

		switch req.Method {
		case "initialize":
			s.handleInitialize(&req)
		case "session/new":
			s.handleSessionNew(&req)
		case "session/load":
			s.handleSessionLoad(&req)
		case "session/prompt":
			if prompt := s.acceptPrompt(&req); prompt != nil {
				s.prompts.Add(1)
				go func() {
					defer s.prompts.Done()
					prompt()
				}()
			}
		case "session/cancel":
			s.handleSessionCancel(&req)
		default:
			if req.ID != nil {
				_ = s.writeResponseError(req.ID, codeMethodNotFound, "Method not found", nil)
			}
		}
	}
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// acpSession is one client session: an agent rooted at the session's cwd
// and the transcript of every prompt so far.
type acpSession struct {
	id         string
	agent      *agent.Agent
	transcript *session.Transcript

	// busy serializes prompts within the session.
	busy sync.Mutex

	// A cancel applies to every prompt accepted but not yet answered, even
	// one still waiting for busy or for its run to start.
	mu        sync.Mutex
	inFlight  int
	cancelled bool
}

func (a *acpSession) begin() {
	a.mu.Lock()
	a.inFlight++
	a.mu.Unlock()
}

func (a *acpSession) end() {
	a.mu.Lock()
	a.inFlight--
	if a.inFlight == 0 {
		a.cancelled = false
	}
	a.mu.Unlock()
}

// cancel flags the accepted prompts and reports whether there were any.
func (a *acpSession) cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inFlight == 0 {
		return false
	}
	a.cancelled = true
	return true
}

func (a *acpSession) isCancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

type acpServer struct {
	ctx    context.Context
	opts   Options
	logger *slog.Logger

	sessionsLock sync.Mutex
	sessions     map[string]*acpSession
	sessionIDSeq int64

	reader  *bufio.Reader
	writer  *bufio.Writer
	writeMu sync.Mutex
	prompts sync.WaitGroup
}

// readFramedMessage reads one newline-delimited JSON-RPC payload.
func (s *acpServer) readFramedMessage() ([]byte, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	return line[:len(line)-1], nil
}

// writeFramedJSON serializes obj and writes it followed by a newline.
func (s *acpServer) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.logger.Debug("sending", "payload", string(data))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *acpServer) writeResponseOK(id any, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return s.writeResponseError(id, codeInternalError, "Internal error", err.Error())
	}
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	s.logger.Debug("error response", "code", code, "message", msg, "data", data)
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

func (s *acpServer) sendUpdate(sessionID string, update map[string]any) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update":    update,
	})
}

// ---- Handlers ----

func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": s.opts.Store != nil,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

type sessionParams struct {
	SessionID  string          `json:"sessionId"`
	Cwd        string          `json:"cwd"`
	McpServers json.RawMessage `json:"mcpServers"`
}

func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	var p sessionParams
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	sess, err := s.openSession(s.nextSessionID(), p.Cwd, nil)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
		return
	}
	s.logger.Info("session created", "session", sess.id, "cwd", p.Cwd)
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sess.id})
}

// handleSessionLoad restores a session from the store and replays its
// messages as user_message_chunk and agent_message_chunk updates.
func (s *acpServer) handleSessionLoad(req *jsonrpcRequest) {
	var p sessionParams
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	if s.opts.Store == nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "session loading is disabled")
		return
	}
	tr, err := s.opts.Store.Load(s.ctx, p.SessionID)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %v", err))
		return
	}
	sess, err := s.openSession(p.SessionID, p.Cwd, tr)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
		return
	}

	s.logger.Info("replaying session", "session", sess.id, "messages", len(tr.Messages))
	for _, msg := range tr.Messages {
		kind := "agent_message_chunk"
		if msg.Role == session.RoleUser {
			kind = "user_message_chunk"
		}
		if msg.Role == session.RoleSystem || msg.Content == "" {
			continue
		}
		_ = s.sendUpdate(sess.id, textUpdate(kind, msg.Content))
	}
	_ = s.writeResponseOK(req.ID, nil)
}

type promptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []contentBlock `json:"prompt"`
}

// acceptPrompt validates a session/prompt request on the read loop and
// returns the work that answers it, or nil after replying with an error.
// Accepting it here orders it before any session/cancel read afterwards.
func (s *acpServer) acceptPrompt(req *jsonrpcRequest) func() {
	var p promptParams
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return nil
	}
	sess := s.session(p.SessionID)
	if sess == nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return nil
	}
	userText := extractUserText(p.Prompt)
	if userText == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "empty prompt")
		return nil
	}
	sess.begin()
	return func() {
		defer sess.end()
		s.handleSessionPrompt(req, sess, userText)
	}
}

// handleSessionPrompt runs one agent request. Every dispatched record is
// reported as a tool_call, the output it feeds back as a tool_result and
// announcements as agent_message_chunk.
func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest, sess *acpSession, userText string) {
	sess.busy.Lock()
	defer sess.busy.Unlock()
	if sess.transcript.Request == "" {
		sess.transcript.Request = userText
	}

	res, err := sess.agent.Run(s.ctx, userText, s.updates(sess))
	if s.opts.Store != nil {
		reason := ""
		if res != nil {
			reason = string(res.StopReason)
		}
		sess.transcript.Finish(reason, err)
		if saveErr := s.opts.Store.Save(s.ctx, sess.transcript); saveErr != nil {
			s.logger.Warn("failed to save session", "session", sess.id, "error", saveErr)
		}
	}
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("error processing user input: %v", err))
		return
	}
	_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": stopReason(res.StopReason)})
}

func (s *acpServer) handleSessionCancel(req *jsonrpcRequest) {
	var p sessionParams
	if err := decodeParams(req, &p); err != nil {
		return
	}
	if sess := s.session(p.SessionID); sess != nil {
		s.logger.Info("cancel requested", "session", sess.id, "pending", sess.cancel())
		sess.agent.Interrupt()
	}
}

// updates maps engine events of one run onto session/update notifications.
func (s *acpServer) updates(sess *acpSession) engine.Callbacks {
	handled := make(map[string]bool)
	for _, r := range sess.agent.Engine().Responders() {
		if r.In(engine.ScopeLoop) {
			handled[r.Delimiter] = true
		}
	}
	var (
		seq      int
		openCall string
	)
	return engine.Callbacks{
		OnRunStart: func(runID, _ string) {
			if sess.isCancelled() {
				s.logger.Info("run cancelled before its first step", "session", sess.id, "run", runID)
				sess.agent.Interrupt()
			}
		},
		OnMessage: func(_ string, msg session.Message) {
			if sess.transcript != nil {
				sess.transcript.AddMessage(msg)
			}
			if openCall != "" && msg.Role == session.RoleUser {
				_ = s.sendUpdate(sess.id, map[string]any{
					"sessionUpdate": "tool_result",
					"toolResult": map[string]any{
						"toolCallId": openCall,
						"result":     msg.Content,
					},
				})
			}
		},
		OnRecord: func(_ string, rec protocol.Record) {
			switch {
			case rec.IsTitle():
			case rec.Delimiter == agent.GlyphAnnounce:
				_ = s.sendUpdate(sess.id, textUpdate("agent_message_chunk", rec.Text()))
			case handled[rec.Delimiter]:
				seq++
				openCall = fmt.Sprintf("call_%d", seq)
				_ = s.sendUpdate(sess.id, map[string]any{
					"sessionUpdate": "tool_call",
					"toolCall": map[string]any{
						"id":   openCall,
						"name": rec.Delimiter,
						"args": rec.Head(),
					},
				})
			}
		},
		OnResponder: func(_ string, _ string, scope engine.Scope, _ time.Duration, _ error) {
			if scope == engine.ScopeLoop {
				openCall = ""
			}
		},
	}
}

func (s *acpServer) openSession(id, cwd string, tr *session.Transcript) (*acpSession, error) {
	a, err := s.opts.NewAgent(cwd)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		tr = session.New(id, "")
	}
	sess := &acpSession{id: id, agent: a, transcript: tr}
	s.sessionsLock.Lock()
	s.sessions[id] = sess
	s.sessionsLock.Unlock()
	return sess, nil
}

func (s *acpServer) session(id string) *acpSession {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	return s.sessions[id]
}

// nextSessionID generates a unique session ID from a timestamp and a
// sequence number.
func (s *acpServer) nextSessionID() string {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessionIDSeq++
	return fmt.Sprintf("sess_%d_%d", time.Now().UnixNano(), s.sessionIDSeq)
}

func decodeParams(req *jsonrpcRequest, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

func textUpdate(kind, text string) map[string]any {
	return map[string]any{
		"sessionUpdate": kind,
		"content": map[string]any{
			"type": "text",
			"text": text,
		},
	}
}

func stopReason(r engine.StopReason) string {
	switch r {
	case engine.StopRefused:
		return "refusal"
	case engine.StopInterrupted, engine.StopCanceled:
		return "cancelled"
	default:
		return "end_turn"
	}
}
