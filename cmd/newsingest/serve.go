package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/newsingest/api"
	"github.com/pevans/newsingest/logger"
	"github.com/pevans/newsingest/store"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored articles over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if addr == "" {
				addr = cfg.API.Addr
			}

			ctx := cmd.Context()
			st, err := store.OpenReadOnly(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			if !opts.debug {
				gin.SetMode(gin.ReleaseMode)
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           api.NewAPIServer(st, log).SetupRouter(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("Starting API server", logger.String("addr", addr))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				log.Info("Shutting down API server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides api.addr)")

	return cmd
}
