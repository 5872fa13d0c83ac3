package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/m4xw311/puck/engine"
	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/session"
	"github.com/m4xw311/puck/tools"
)

// Command glyphs.
const (
	GlyphWrite      = "💽"
	GlyphDiff       = "💠"
	GlyphShell      = "💻"
	GlyphRead       = "📤"
	GlyphOpenTask   = "📬"
	GlyphClosedTask = "📭"
	GlyphDone       = "✅"
	GlyphInProgress = "🔍"
	GlyphAnnounce   = "📢"
	GlyphEditor     = "🆚"
	GlyphFinished   = "🏁"
	GlyphInvalid    = "⛔"
	GlyphTool       = "🔌"
)

// iterationGlyphs get an iteration variable holding the latest payload of
// their kind.
var iterationGlyphs = []string{
	GlyphWrite, GlyphDiff, GlyphOpenTask, GlyphClosedTask, GlyphShell,
	GlyphEditor, GlyphAnnounce, GlyphRead, GlyphInvalid, GlyphInProgress,
}

// responders builds the command set. The 🔌 responder is only wired when at
// least one MCP server is connected.
func (a *Agent) responders() []engine.Responder {
	rs := []engine.Responder{
		engine.Typed("TargetFile", GlyphWrite, decodeFileWrite, a.writeFile),
		engine.Typed("Diff", GlyphDiff, decodeFilePatch, a.applyDiff),
		engine.Typed("BashCommand", GlyphShell, decodeShellCommand, a.runShell),
		engine.Typed("FileRequest", GlyphRead, decodeReadRange, a.readFile),
		engine.Typed("TaskOpen", GlyphOpenTask, decodeTask, openTask),
		engine.Typed("TaskClosed", GlyphClosedTask, decodeTask, closedTask),
		engine.Typed("TaskCompleted", GlyphDone, decodeTask, completeTask),
		engine.Typed("TaskInProgress", GlyphInProgress, decodeTask, taskInProgress),
		engine.Typed("Announce", GlyphAnnounce, decodeTask, announce),
		engine.Typed("Editor", GlyphEditor, decodeTask, a.openEditor),
		stopOn("AllTasksDone", GlyphFinished, engine.StopFinished),
		stopOn("InvalidInput", GlyphInvalid, engine.StopRefused),
		{
			Name:    "EchoWork",
			Scopes:  []engine.Scope{engine.ScopeInit},
			Exclude: true,
			Process: func(context.Context, *engine.RunContext, engine.Call) error { return nil },
		},
		{
			Name:    "finish",
			Scopes:  []engine.Scope{engine.ScopePost},
			Process: finish,
		},
	}
	if a.mcp != nil && !a.mcp.Empty() {
		rs = append(rs, engine.Typed("MCPTool", GlyphTool, decodeToolCall, a.callTool))
	}
	return rs
}

func (a *Agent) writeFile(_ context.Context, rc *engine.RunContext, p fileWrite) error {
	path := rc.Resolve(p.Path)
	rc.AddMessage(session.RoleAssistant, GlyphWrite+" "+p.Path)
	if err := a.workspace.WriteFile(path, p.Content); err != nil {
		rc.AddMessage(session.RoleUser, fmt.Sprintf("%s %s FAILED: %v", GlyphWrite, p.Path, err))
		return err
	}
	rc.AddMessage(session.RoleUser, GlyphWrite+" "+p.Path+" saved")
	rc.RecordCommand(GlyphWrite + " " + p.Path)
	rc.Logger().Info("file written", "path", path, "bytes", len(p.Content))
	return nil
}

func (a *Agent) applyDiff(_ context.Context, rc *engine.RunContext, p filePatch) error {
	path := rc.Resolve(p.Path)
	rc.AddMessage(session.RoleAssistant, GlyphDiff+" "+p.Path+"\n"+p.Diff)

	original, err := a.workspace.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		rc.AddMessage(session.RoleUser, fmt.Sprintf("%s %s FAILED: %v", GlyphDiff, p.Path, err))
		return err
	}
	patched, err := tools.ApplyPatch(original, p.Diff)
	if err == nil {
		err = a.workspace.WriteFile(path, patched)
	}
	if err != nil {
		rc.AddMessage(session.RoleUser, fmt.Sprintf("%s %s FAILED: %v", GlyphDiff, p.Path, err))
		return err
	}
	rc.AddMessage(session.RoleUser, GlyphDiff+" APPLIED "+p.Path)
	rc.RecordCommand(GlyphDiff + " " + p.Path)
	rc.Logger().Info("diff applied", "path", path)
	return nil
}

func (a *Agent) runShell(ctx context.Context, rc *engine.RunContext, p shellCommand) error {
	rc.AddMessage(session.RoleAssistant, GlyphShell+" "+p.Command)
	rc.RecordCommand(GlyphShell + " " + p.Command)

	dir := rc.WorkDir()
	res, err := a.shell.Run(ctx, dir, p.Command)
	if err != nil {
		rc.AddMessage(session.RoleUser, fmt.Sprintf("%s\nERROR: %v", res.Output, err))
		return err
	}
	if res.ExitCode != 0 {
		rc.AddMessage(session.RoleUser, fmt.Sprintf("%s\nERROR: command exited with status %d", res.Output, res.ExitCode))
		return nil
	}
	if target, ok := tools.ChangeDir(p.Command, dir); ok {
		if info, statErr := os.Stat(target); statErr == nil && info.IsDir() {
			rc.SetWorkDir(target)
			rc.Logger().Info("working directory changed", "dir", target)
		}
	}
	rc.AddMessage(session.RoleUser, res.Output)
	return nil
}

func (a *Agent) readFile(_ context.Context, rc *engine.RunContext, r readRange) error {
	rc.AddMessage(session.RoleAssistant, GlyphRead+" "+r.String())
	slice, err := a.workspace.ReadLines(rc.Resolve(r.Path), r.Start, r.Count)
	if errors.Is(err, os.ErrNotExist) {
		rc.AddMessage(session.RoleUser, r.Path+" NOT FOUND")
		return nil
	}
	if err != nil {
		rc.AddMessage(session.RoleUser, fmt.Sprintf("%s ERROR: %v", r.Path, err))
		return err
	}
	rc.RecordCommand(GlyphRead + " " + r.String())

	text := slice.Text
	if slice.Partial {
		text = fmt.Sprintf("%s\n...lines %d to %d of %d", strings.TrimSuffix(text, "\n"), slice.From, slice.To, slice.Total)
	}
	rc.AddMessage(session.RoleUser, r.Path+"\n"+text)
	return nil
}

// openTask keeps the working set in step with the open queue; the record
// itself was queued during classification.
func openTask(_ context.Context, rc *engine.RunContext, t task) error {
	tasks := rc.Tasks()
	tasks.Sync()
	rc.Logger().Info("task opened", "task", t.Text, "open", len(tasks.Open()))
	return nil
}

// closedTask accepts a 📭 line echoed back from the status message. Closed
// tasks only change through ✅.
func closedTask(_ context.Context, rc *engine.RunContext, t task) error {
	rc.Logger().Debug("closed task echoed", "task", t.Text)
	return nil
}

func completeTask(_ context.Context, rc *engine.RunContext, _ task) error {
	done, ok := rc.Tasks().Complete()
	if !ok {
		rc.Logger().Warn("task completed with no open task")
		return nil
	}
	rc.Logger().Info("task completed", "task", done.Text())
	return nil
}

func taskInProgress(_ context.Context, rc *engine.RunContext, t task) error {
	rc.Tasks().Sync()
	rc.Logger().Debug("task in progress", "task", t.Text)
	return nil
}

func announce(_ context.Context, rc *engine.RunContext, t task) error {
	rc.AddMessage(session.RoleAssistant, GlyphAnnounce+" "+t.Text)
	rc.RecordCommand(GlyphAnnounce + " " + t.Text)
	return nil
}

func (a *Agent) openEditor(ctx context.Context, rc *engine.RunContext, t task) error {
	if a.opener == nil || t.Text == "" {
		a.logger.Debug("no editor hook", "path", t.Text)
		return nil
	}
	return a.opener(ctx, rc.Resolve(t.Text))
}

func (a *Agent) callTool(ctx context.Context, rc *engine.RunContext, tc toolCall) error {
	head := fmt.Sprintf("%s %s %s", GlyphTool, tc.Server, tc.Tool)
	rc.AddMessage(session.RoleAssistant, head)
	rc.RecordCommand(head)
	out, err := a.mcp.Call(ctx, tc.Server, tc.Tool, tc.Args)
	if err != nil {
		rc.AddMessage(session.RoleUser, fmt.Sprintf("%s\nERROR: %v", head, err))
		return err
	}
	rc.AddMessage(session.RoleUser, head+"\n"+out)
	return nil
}

func stopOn(name, delimiter string, reason engine.StopReason) engine.Responder {
	return engine.Responder{
		Name:      name,
		Delimiter: delimiter,
		Scopes:    []engine.Scope{engine.ScopeLoop},
		Process: func(_ context.Context, rc *engine.RunContext, call engine.Call) error {
			rc.Logger().Info("stop requested", "responder", name, "reason", reason, "payload", call.Record.Text())
			rc.RequestStop(reason)
			return nil
		},
	}
}

// finish feeds the task status back while tasks remain open and ends the
// run once the queue is drained.
func finish(_ context.Context, rc *engine.RunContext, _ engine.Call) error {
	tasks := rc.Tasks()
	open := tasks.Open()
	if len(open) == 0 {
		rc.ClearInputBuffer()
		rc.RequestStop(engine.StopTasksComplete)
		return nil
	}
	rc.AddMessage(session.RoleUser, statusMessage(rc.Request(), rc.History(), open, tasks.Closed(), tasks.Current()))
	return nil
}

func statusMessage(request string, history, open, closed, current []string) string {
	return strings.Join([]string{
		GlyphAnnounce + " " + request,
		GlyphShell + " " + strings.Join(history, "\n"),
		GlyphOpenTask + " " + strings.Join(open, "\n"),
		GlyphClosedTask + " " + strings.Join(closed, "\n"),
		GlyphInProgress + " " + strings.Join(current, "\n"),
	}, "\n")
}

