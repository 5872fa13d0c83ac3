package main

import (
	"github.com/spf13/cobra"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/agent/acp"
)

func newACPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "acp",
		Short: "Serve the Agent Client Protocol over stdio",
		Long: `Runs puck as an Agent Client Protocol server speaking newline-delimited
JSON-RPC on stdin and stdout. Logs go to stderr and, with --trace, to a file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			return acp.Run(ctx, acp.Options{
				NewAgent: func(cwd string) (*agent.Agent, error) { return a.newAgent(cwd) },
				Store:    a.store,
				Logger:   a.logger,
			}, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
