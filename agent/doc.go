// Package agent wires the glyph command set into an engine.
//
// The model answers in lines led by command glyphs. The agent registers one
// responder per glyph:
//
//	💽 write a file       💠 apply a unified diff   💻 run a shell command
//	📤 read a file        📬 open a task            ✅ complete the current task
//	🔍 task in progress   📢 announce               🆚 open in the editor
//	🏁 all tasks done     ⛔ invalid input          🔌 call an MCP tool
//	📭 closed task (echo only)
//
// plus a post-phase "finish" responder that feeds the task status back to
// the model while tasks remain open and ends the run once the queue drains.
//
// # Usage
//
//	a, err := agent.New(cfg, client,
//	    agent.WithWorkDir(root),
//	    agent.WithTranscriptStore(store),
//	)
//	if err != nil {
//	    // handle error
//	}
//	res, err := a.Run(ctx, "add a README", engine.Callbacks{
//	    OnRecord: func(runID string, rec protocol.Record) {
//	        fmt.Println(rec)
//	    },
//	})
//
// # Front-ends
//
// agent/terminal drives the agent from an interactive prompt. agent/acp
// serves it over the Agent Client Protocol for IDE integration; each
// dispatched record becomes a session/update notification. agent/wsbridge
// streams run events to WebSocket clients.
package agent
