// Command puck runs the glyph-protocol coding agent, either as an
// interactive terminal session or as an Agent Client Protocol server on
// stdio.
package main

func main() {
	Execute()
}
