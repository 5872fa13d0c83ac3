// Package terminal implements the interactive command-line mode of puck.
//
// Each line typed at the prompt becomes one agent run. While the run is in
// progress the terminal prints every command the model issues; with Verbose
// set it also prints the output fed back to the model. /quit and /exit end
// the session, as does end of input.
//
//	a, err := agent.New(cfg, client)
//	if err != nil {
//	    // handle error
//	}
//	term := terminal.New(a)
//	err = term.Run(ctx, initialPrompt)
package terminal
