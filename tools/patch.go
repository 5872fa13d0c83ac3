package tools

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/m4xw311/puck/errors"
)

// ApplyPatch applies a unified diff to original. The diff may carry
// ---/+++ file headers or start directly at the first @@ hunk header.
// Hunks whose line numbers are off are matched against the nearest
// position where their context and removed lines appear.
func ApplyPatch(original, patch string) (string, error) {
	hunks, err := parseHunks(patch)
	if err != nil {
		return "", err
	}
	if len(hunks) == 0 {
		return "", errors.New("patch contains no hunks")
	}

	lines, trailingNewline := splitLines(original)
	if len(lines) == 0 {
		trailingNewline = true
	}

	floor, drift := 0, 0
	for i, h := range hunks {
		oldLines, newLines := hunkLines(h)

		want := int(h.OrigStartLine) - 1 + drift
		if len(oldLines) == 0 {
			// A pure insertion goes after line OrigStartLine.
			want = int(h.OrigStartLine) + drift
		}
		pos, ok := locate(lines, oldLines, want, floor)
		if !ok {
			return "", errors.New("hunk %d (@@ -%d,%d +%d,%d @@) does not match the file",
				i+1, h.OrigStartLine, h.OrigLines, h.NewStartLine, h.NewLines)
		}

		spliced := make([]string, 0, len(lines)-len(oldLines)+len(newLines))
		spliced = append(spliced, lines[:pos]...)
		spliced = append(spliced, newLines...)
		spliced = append(spliced, lines[pos+len(oldLines):]...)
		lines = spliced

		floor = pos + len(newLines)
		drift = pos - want + len(newLines) - len(oldLines) + drift
	}

	out := strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		out += "\n"
	}
	return out, nil
}

func parseHunks(patch string) ([]*diff.Hunk, error) {
	patch = strings.ReplaceAll(patch, "\r\n", "\n")
	if !strings.HasSuffix(patch, "\n") {
		patch += "\n"
	}
	if hasFileHeader(patch) {
		fd, err := diff.ParseFileDiff([]byte(patch))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid unified diff")
		}
		return fd.Hunks, nil
	}
	start := strings.Index(patch, "@@")
	if start < 0 {
		return nil, errors.New("patch contains no hunk header")
	}
	hunks, err := diff.ParseHunks([]byte(patch[start:]))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid unified diff")
	}
	return hunks, nil
}

// hasFileHeader reports whether a "--- " line comes before the first hunk.
func hasFileHeader(patch string) bool {
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "@@") {
			return false
		}
		if strings.HasPrefix(line, "--- ") {
			return true
		}
	}
	return false
}

// hunkLines splits a hunk body into the lines it expects and the lines it
// leaves behind. Empty body lines count as empty context.
func hunkLines(h *diff.Hunk) (oldLines, newLines []string) {
	body := strings.TrimSuffix(string(h.Body), "\n")
	if body == "" {
		return nil, nil
	}
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			oldLines = append(oldLines, "")
			newLines = append(newLines, "")
			continue
		}
		switch line[0] {
		case '-':
			oldLines = append(oldLines, line[1:])
		case '+':
			newLines = append(newLines, line[1:])
		case '\\':
			// "\ No newline at end of file"
		case ' ':
			oldLines = append(oldLines, line[1:])
			newLines = append(newLines, line[1:])
		default:
			oldLines = append(oldLines, line)
			newLines = append(newLines, line)
		}
	}
	return oldLines, newLines
}

// locate finds where old occurs in lines, starting at want and widening
// the search outward, never before floor. Exact matches win over matches
// that ignore trailing whitespace.
func locate(lines, old []string, want, floor int) (int, bool) {
	maxPos := len(lines) - len(old)
	if want < floor {
		want = floor
	}
	if want > maxPos {
		want = maxPos
	}
	if len(old) == 0 {
		return want, want >= floor
	}
	for _, eq := range []func(a, b string) bool{exactEqual, looseEqual} {
		for d := 0; d <= len(lines); d++ {
			for _, p := range []int{want + d, want - d} {
				if p < floor || p > maxPos {
					continue
				}
				if matchAt(lines, old, p, eq) {
					return p, true
				}
				if d == 0 {
					break
				}
			}
		}
	}
	return 0, false
}

func matchAt(lines, old []string, pos int, eq func(a, b string) bool) bool {
	for i, o := range old {
		if !eq(lines[pos+i], o) {
			return false
		}
	}
	return true
}

func exactEqual(a, b string) bool { return a == b }

func looseEqual(a, b string) bool {
	return strings.TrimRight(a, " \t") == strings.TrimRight(b, " \t")
}

func splitLines(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(s, "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n"), trailing
}
