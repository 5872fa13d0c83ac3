package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/agent/wsbridge"
)

func newWSCmd(flags *globalFlags) *cobra.Command {
	var (
		addr    string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "ws",
		Short: "Serve agents over WebSocket",
		Long: `Starts a WebSocket server on /ws. Every connection gets its own agent;
each text frame is a request and the run's events are streamed back as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			mux := http.NewServeMux()
			mux.Handle("/ws", wsbridge.New(func() (*agent.Agent, error) {
				return a.newAgent("", opts...)
			}, a.logger, origins...))
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			serverErrors := make(chan error, 1)
			go func() {
				fmt.Fprintf(cmd.OutOrStdout(), "WebSocket server running on ws://%s/ws\n", addr)
				serverErrors <- srv.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("graceful shutdown did not complete", "error", err)
					return srv.Close()
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:8080", "Address to listen on")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "Extra browser origins allowed to connect (default: same origin only)")
	return cmd
}
