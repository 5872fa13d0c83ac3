// Package protocol implements the glyph command grammar the model speaks.
//
// A model response is plain text in which some lines start with a short
// delimiter (one to three glyphs, usually an emoji). Each delimiter opens a
// command record; every following line that does not start with a known
// delimiter is a continuation of that record:
//
//	Planning notes the model wrote first      <- title record (no delimiter)
//	📬 write the README
//	💽 README.md                              <- record 💽, line 0 = path
//	# Project                                 <- continuation lines
//	✅
//
// A Grammar is built once from the full delimiter set and rejects sets in
// which one delimiter is a prefix of another, since segmentation would be
// ambiguous. Parse never panics: a response without any delimiter-led line
// yields ErrNoMatch, which callers treat as a recoverable protocol violation.
package protocol
