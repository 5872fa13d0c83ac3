package protocol

import (
	"errors"
	"strings"
)

// ErrNoMatch means the response did not fit the grammar.
var ErrNoMatch = errors.New("response does not match the command grammar")

// Record is one parsed command: the delimiter that opened it and its payload
// lines. The title record has an empty Delimiter.
type Record struct {
	Delimiter string   `json:"delimiter"`
	Lines     []string `json:"lines"`
}

// IsTitle reports whether r holds the text preceding the first delimiter.
func (r Record) IsTitle() bool { return r.Delimiter == "" }

// Head is the first payload line, trimmed.
func (r Record) Head() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Lines[0])
}

// Body is every payload line after the first, joined with newlines.
func (r Record) Body() string {
	if len(r.Lines) < 2 {
		return ""
	}
	return strings.Join(r.Lines[1:], "\n")
}

// Text is the whole payload joined with newlines and trimmed.
func (r Record) Text() string {
	return strings.TrimSpace(strings.Join(r.Lines, "\n"))
}

// String renders the record the way the model wrote it.
func (r Record) String() string {
	if r.IsTitle() {
		return r.Text()
	}
	if t := r.Text(); t != "" {
		return r.Delimiter + " " + t
	}
	return r.Delimiter
}

// Parse splits a response into records. A trailing newline is appended
// before scanning, and the final empty line it produces is dropped.
func (g *Grammar) Parse(response string) ([]Record, error) {
	text := strings.ReplaceAll(response+"\n", "\r\n", "\n")
	lines := strings.Split(text, "\n")
	lines = lines[:len(lines)-1]

	var records []Record
	matched := false
	for _, line := range lines {
		if d, ok := g.Lead(line); ok {
			matched = true
			records = append(records, Record{
				Delimiter: d,
				Lines:     []string{strings.TrimSpace(line[len(d):])},
			})
			continue
		}
		if len(records) == 0 {
			records = append(records, Record{})
		}
		last := &records[len(records)-1]
		last.Lines = append(last.Lines, line)
	}
	if !matched {
		return nil, ErrNoMatch
	}
	if records[0].IsTitle() && records[0].Text() == "" {
		records = records[1:]
	}
	for i := range records {
		records[i].Lines = trimTrailingEmpty(records[i].Lines)
	}
	return records, nil
}

// trimTrailingEmpty drops trailing empty lines but keeps whitespace-only
// ones, which can be diff context.
func trimTrailingEmpty(lines []string) []string {
	n := len(lines)
	for n > 1 && lines[n-1] == "" {
		n--
	}
	return lines[:n]
}
