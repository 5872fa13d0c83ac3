package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	workDir    string
	trace      string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "puck",
		Short: "Puck is a coding agent speaking a glyph command protocol",
		Long: `Puck drives a language model through a line-oriented command protocol:
every response is a list of glyph-prefixed commands (write a file, apply a
diff, run a shell command, manage tasks) that puck executes and answers.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file (defaults to ~/.puck/config.yaml layered with ./.puck/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flags.workDir, "dir", "C", "", "Project directory (defaults to the current directory)")
	rootCmd.PersistentFlags().StringVar(&flags.trace, "trace", "", "Write a JSON trace of every log record to this file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(flags), newACPCmd(flags), newWSCmd(flags))
	return rootCmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
