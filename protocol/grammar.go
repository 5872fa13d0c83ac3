package protocol

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/m4xw311/puck/errors"
)

// MaxDelimiterGlyphs is the longest delimiter, in runes, the grammar accepts.
const MaxDelimiterGlyphs = 3

// Grammar recognizes delimiter-led lines for a frozen delimiter set.
type Grammar struct {
	delimiters []string
	lead       *regexp.Regexp
}

// Build validates delimiters and compiles the grammar. Delimiters must be
// non-empty, at most MaxDelimiterGlyphs runes, pairwise distinct, and no
// delimiter may be a prefix of another.
func Build(delimiters []string) (*Grammar, error) {
	if len(delimiters) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidDelimiter, "grammar needs at least one delimiter")
	}
	for _, d := range delimiters {
		if err := ValidateDelimiter(d); err != nil {
			return nil, err
		}
	}
	for i, a := range delimiters {
		for j, b := range delimiters {
			if i == j {
				continue
			}
			if a == b {
				return nil, errors.Wrapf(errors.ErrInvalidDelimiter, "delimiter %q registered twice", a)
			}
			if strings.HasPrefix(b, a) {
				return nil, errors.Wrapf(errors.ErrInvalidDelimiter, "delimiter %q is a prefix of %q", a, b)
			}
		}
	}

	sorted := append([]string(nil), delimiters...)
	sort.Strings(sorted)
	quoted := make([]string, len(sorted))
	for i, d := range sorted {
		quoted[i] = regexp.QuoteMeta(d)
	}
	lead, err := regexp.Compile(`^(?:` + strings.Join(quoted, "|") + `)`)
	if err != nil {
		return nil, errors.Wrapf(err, "compile delimiter grammar")
	}
	return &Grammar{delimiters: sorted, lead: lead}, nil
}

// ValidateDelimiter checks a single delimiter's shape.
func ValidateDelimiter(d string) error {
	if d == "" {
		return errors.Wrapf(errors.ErrInvalidDelimiter, "empty delimiter")
	}
	if !utf8.ValidString(d) {
		return errors.Wrapf(errors.ErrInvalidDelimiter, "delimiter %q is not valid UTF-8", d)
	}
	if n := utf8.RuneCountInString(d); n > MaxDelimiterGlyphs {
		return errors.Wrapf(errors.ErrInvalidDelimiter, "delimiter %q has %d glyphs, max %d", d, n, MaxDelimiterGlyphs)
	}
	if strings.ContainsAny(d, " \t\r\n") {
		return errors.Wrapf(errors.ErrInvalidDelimiter, "delimiter %q contains whitespace", d)
	}
	return nil
}

// Delimiters returns the sorted delimiter set.
func (g *Grammar) Delimiters() []string {
	return append([]string(nil), g.delimiters...)
}

// Lead returns the delimiter that starts line, if any. Delimiters are
// prefix-free, so at most one can match.
func (g *Grammar) Lead(line string) (string, bool) {
	loc := g.lead.FindStringIndex(line)
	if loc == nil {
		return "", false
	}
	return line[:loc[1]], true
}
