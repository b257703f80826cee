package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/arunbanswal/mockrtc/internal/admin"
	"github.com/arunbanswal/mockrtc/internal/config"
	"github.com/arunbanswal/mockrtc/internal/dispatch"
	"github.com/arunbanswal/mockrtc/internal/events"
	"github.com/arunbanswal/mockrtc/internal/webrtc"
)

func serveCmd() *cobra.Command {
	var (
		addr    string
		stun    []string
		scripts []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the administration server hosting mock peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			feed := events.NewFeed()
			defer feed.Close()

			registry := prometheus.NewRegistry()
			feed.SetMetrics(events.NewMetrics(registry))

			broker := dispatch.NewBroker()
			server := admin.NewServer(admin.Config{
				Feed:   feed,
				Broker: broker,
				Factory: &webrtc.Factory{
					ICEServers: stun,
					Reporter:   feed,
				},
				Gatherer:   registry,
				ICEServers: stun,
			})
			defer server.Close()

			for _, path := range scripts {
				defs, err := config.LoadScript(path)
				if err != nil {
					return fmt.Errorf("script %s: %w", path, err)
				}
				id := server.AddSession(defs)
				fmt.Fprintf(cmd.OutOrStdout(), "session %s ready from %s\n", id, path)
			}

			srv := &http.Server{
				Addr:    addr,
				Handler: server.Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "mockrtc admin server listening on %s\n", addr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":4654", "listen address")
	cmd.Flags().StringSliceVar(&stun, "stun", nil, "STUN server URLs for hosted peers")
	cmd.Flags().StringSliceVar(&scripts, "script", nil, "YAML behavior script to pre-register as a session (repeatable)")
	return cmd
}
