package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"microd/internal/config"
	"microd/internal/httpapi"
)

func serveCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compile-and-run HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := cfg.Addr
			if v, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") || addr == "" {
				addr = v
			}
			p, err := buildPipeline(cfg, *log)
			if err != nil {
				return err
			}
			defer p.Close()

			httpapi.SetLogger(*log)
			mux := httpapi.NewMux(p)
			srv := &http.Server{Addr: addr, Handler: mux}

			// Graceful shutdown (Ctrl+C / SIGTERM); handlers are canceled
			// through the shared base context.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			httpapi.SetBaseContext(ctx)

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Str("models_dir", cfg.ModelsDir).Msg("microd listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("graceful shutdown")
			}
			return nil
		},
	}
	// Env default keeps container deployments flag-free.
	addrDefault := defaultAddr
	if v := os.Getenv("MICROD_ADDR"); v != "" {
		addrDefault = v
	}
	cmd.Flags().String("addr", addrDefault, "HTTP listen address, e.g. :8080")
	return cmd
}
