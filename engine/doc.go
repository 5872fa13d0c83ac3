// Package engine runs the glyph command protocol.
//
// An Engine owns a registry of responders, a state store of variables and
// named arrays, and the session loop. Each iteration estimates the size of
// the input buffer, derives a response budget, queries the model, parses the
// response with a grammar built from the registered delimiters and
// dispatches the resulting records in three phases:
//
//   - init: every init responder once, with the whole batch
//   - loop: each record in textual order, to the loop responders sharing its
//     delimiter
//   - post: every post responder once
//
// Malformed responses are retried with a corrective message up to
// Limits.MaxRetries consecutive failures. Responder faults and panics are
// logged and counted; they never abort a batch.
//
// A run ends when a responder requests a stop, when Interrupt is called,
// when the input buffer is empty at the start of an iteration, or on a fatal
// error (ErrBudgetExhausted, ErrProtocolViolation, model failures).
package engine
