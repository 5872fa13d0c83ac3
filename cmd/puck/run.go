package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/agent/terminal"
	"github.com/m4xw311/puck/errors"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run [request...]",
		Short: "Start an interactive session in the terminal",
		Long: `Starts an interactive session. Each line typed at the prompt becomes one
agent request; any arguments are sent as the first request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			var opts []agent.Option
			if a.store != nil {
				opts = append(opts, agent.WithTranscriptStore(a.store))
			}
			puck, err := a.newAgent("", opts...)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Puck is ready. Type your request.")
			term := terminal.NewWithIO(puck, cmd.InOrStdin(), cmd.OutOrStdout())
			term.Verbose = verbose
			if err := term.Run(ctx, strings.Join(args, " ")); err != nil {
				return errors.Wrapf(err, "agent stopped with an error")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also print the command output fed back to the model")
	return cmd
}
