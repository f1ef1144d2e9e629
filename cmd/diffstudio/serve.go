package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"diffstudio/internal/httpapi"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			log, closer := newLogger(cfg, os.Stderr)
			defer closer.Close()

			a, err := newApp(cfg, log, studioOptions{})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			httpapi.SetLogger(log)
			httpapi.SetDefaultLogLevel(cfg.LogLevel)
			httpapi.SetBaseContext(ctx)
			httpapi.SetInferTimeoutSeconds(int64(cfg.InferTimeoutSec))
			httpapi.SetMaxBodyBytes(int64(cfg.MaxBodyMB) << 20)
			httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
			var svc httpapi.Service = &httpapi.StudioService{Studio: a.studio}
			if a.history != nil {
				svc = &httpapi.StudioService{Studio: a.studio, HistoryStore: a.history}
			}
			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(svc),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("weights_dir", a.registry.Dir()).Msg("diffstudio listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					_ = a.close(context.Background())
					return err
				}
			case <-ctx.Done():
			}

			// Graceful shutdown: stop admitting, finish HTTP, then unload.
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			err = srv.Shutdown(shutdownCtx)
			return errors.Join(err, a.close(shutdownCtx))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default :18080)")
	return cmd
}
