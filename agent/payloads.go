package agent

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/protocol"
)

// fileWrite is a 💽 record: the path on the first line, the content below.
type fileWrite struct {
	Path    string
	Content string
}

func decodeFileWrite(rec protocol.Record) (fileWrite, error) {
	path := rec.Head()
	if path == "" {
		return fileWrite{}, errors.New("file write without a path")
	}
	content := rec.Body()
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return fileWrite{Path: path, Content: content}, nil
}

// filePatch is a 💠 record: the path on the first line, a unified diff below.
type filePatch struct {
	Path string
	Diff string
}

func decodeFilePatch(rec protocol.Record) (filePatch, error) {
	path := rec.Head()
	if path == "" {
		return filePatch{}, errors.New("diff without a path")
	}
	var body []string
	for _, line := range rec.Lines[1:] {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		body = append(body, line)
	}
	if len(body) == 0 {
		return filePatch{}, errors.New("diff for %s is empty", path)
	}
	return filePatch{Path: path, Diff: strings.Join(body, "\n") + "\n"}, nil
}

// shellCommand is a 💻 record.
type shellCommand struct {
	Command string
}

func decodeShellCommand(rec protocol.Record) (shellCommand, error) {
	cmd := rec.Head()
	if cmd == "" {
		return shellCommand{}, errors.New("empty shell command")
	}
	return shellCommand{Command: cmd}, nil
}

// readRange is a 📤 record: "path [start] [count]".
type readRange struct {
	Path  string
	Start int
	Count int
}

// String is the request as the model wrote it.
func (r readRange) String() string {
	switch {
	case r.Count > 0:
		return r.Path + " " + strconv.Itoa(r.Start) + " " + strconv.Itoa(r.Count)
	case r.Start > 0:
		return r.Path + " " + strconv.Itoa(r.Start)
	}
	return r.Path
}

func decodeReadRange(rec protocol.Record) (readRange, error) {
	fields := strings.Fields(rec.Head())
	if len(fields) == 0 {
		return readRange{}, errors.New("file request without a path")
	}
	// Trailing integers are the range; anything before them is the path.
	var nums []int
	for len(fields) > 1 && len(nums) < 2 {
		n, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || n < 0 {
			break
		}
		nums = append([]int{n}, nums...)
		fields = fields[:len(fields)-1]
	}
	r := readRange{Path: strings.Join(fields, " ")}
	if len(nums) > 0 {
		r.Start = nums[0]
	}
	if len(nums) > 1 {
		r.Count = nums[1]
	}
	return r, nil
}

// task is a 📬, ✅ or 🔍 record.
type task struct {
	Text string
}

func decodeTask(rec protocol.Record) (task, error) {
	return task{Text: rec.Text()}, nil
}

// toolCall is a 🔌 record: "server tool" on the first line, JSON arguments
// below.
type toolCall struct {
	Server string
	Tool   string
	Args   map[string]any
}

func decodeToolCall(rec protocol.Record) (toolCall, error) {
	fields := strings.Fields(rec.Head())
	if len(fields) != 2 {
		return toolCall{}, errors.New("tool call needs 'server tool', got %q", rec.Head())
	}
	tc := toolCall{Server: fields[0], Tool: fields[1], Args: map[string]any{}}
	raw := strings.TrimSpace(rec.Body())
	if raw == "" {
		return tc, nil
	}
	if err := json.Unmarshal([]byte(raw), &tc.Args); err != nil {
		return toolCall{}, errors.Wrapf(err, "arguments for %s %s are not a JSON object", tc.Server, tc.Tool)
	}
	return tc, nil
}
