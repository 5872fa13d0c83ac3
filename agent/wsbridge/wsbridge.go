// Package wsbridge serves agents over WebSocket. Each connection gets its
// own agent; every text frame is a request and the events of the resulting
// run are streamed back as JSON frames.
package wsbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/engine"
	"github.com/m4xw311/puck/logging"
	"github.com/m4xw311/puck/protocol"
	"github.com/m4xw311/puck/session"
)

// Inbound frame types. A frame that is not a JSON object is taken as a
// plain request.
const (
	TypeRequest   = "request"
	TypeInterrupt = "interrupt"
)

// Event is one outbound frame.
type Event struct {
	Type string `json:"type"`
	Run  string `json:"run,omitempty"`

	// record
	Delimiter string `json:"delimiter,omitempty"`
	Text      string `json:"text,omitempty"`

	// message
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// invalid_output
	Attempt int `json:"attempt,omitempty"`

	// done
	StopReason string `json:"stop_reason,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Faults     int    `json:"faults,omitempty"`

	Error string `json:"error,omitempty"`
}

type inbound struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Bridge upgrades HTTP requests and runs one agent per connection.
type Bridge struct {
	newAgent func() (*agent.Agent, error)
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a bridge building agents with newAgent. Browsers may only
// connect from the server's own origin or one listed in allowedOrigins
// (scheme://host[:port]); clients that send no Origin header are accepted.
func New(newAgent func() (*agent.Agent, error), logger *slog.Logger, allowedOrigins ...string) *Bridge {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Bridge{
		newAgent: newAgent,
		logger:   logger.With("component", "wsbridge"),
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[strings.TrimSuffix(strings.ToLower(o), "/")] = true
		}
		b.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || sameOrigin(r, origin) {
				return true
			}
			return allowed[strings.ToLower(origin)]
		}
	}
	return b
}

func sameOrigin(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("upgrade failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	defer conn.Close()

	c := &connection{conn: conn, logger: b.logger}
	a, err := b.newAgent()
	if err != nil {
		c.send(Event{Type: "error", Error: err.Error()})
		return
	}
	c.serve(r.Context(), a)
}

// connection serializes writes; gorilla allows one concurrent writer.
type connection struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex
}

func (c *connection) send(ev Event) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(ev); err != nil {
		c.logger.Debug("write failed", "error", err)
	}
}

func (c *connection) serve(ctx context.Context, a *agent.Agent) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runs sync.WaitGroup
	defer runs.Wait()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			cancel()
			a.Interrupt()
			return
		}
		msg := parseInbound(data)
		switch msg.Type {
		case TypeInterrupt:
			a.Interrupt()
		case TypeRequest:
			if msg.Text == "" {
				c.send(Event{Type: "error", Error: "empty request"})
				continue
			}
			runs.Add(1)
			go func() {
				defer runs.Done()
				c.run(ctx, a, msg.Text)
			}()
		default:
			c.send(Event{Type: "error", Error: "unknown frame type " + msg.Type})
		}
	}
}

func (c *connection) run(ctx context.Context, a *agent.Agent, request string) {
	res, err := a.Run(ctx, request, c.events())
	if err != nil {
		ev := Event{Type: "error", Error: err.Error()}
		if res != nil {
			ev.Run = res.RunID
		}
		c.send(ev)
		return
	}
	c.send(Event{
		Type:       "done",
		Run:        res.RunID,
		StopReason: string(res.StopReason),
		Iterations: res.Iterations,
		Faults:     res.Faults,
	})
}

func (c *connection) events() engine.Callbacks {
	return engine.Callbacks{
		OnRunStart: func(runID, request string) {
			c.send(Event{Type: "start", Run: runID, Text: request})
		},
		OnRecord: func(runID string, rec protocol.Record) {
			c.send(Event{Type: "record", Run: runID, Delimiter: rec.Delimiter, Text: rec.Text()})
		},
		OnMessage: func(runID string, msg session.Message) {
			c.send(Event{Type: "message", Run: runID, Role: msg.Role, Content: msg.Content})
		},
		OnInvalidOutput: func(runID string, attempt int, _ string) {
			c.send(Event{Type: "invalid_output", Run: runID, Attempt: attempt})
		},
	}
}

func parseInbound(data []byte) inbound {
	var msg inbound
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal(data, &msg) == nil {
		if msg.Type == "" {
			msg.Type = TypeRequest
		}
		msg.Text = strings.TrimSpace(msg.Text)
		return msg
	}
	return inbound{Type: TypeRequest, Text: trimmed}
}
