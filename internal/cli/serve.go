package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aixiaozi/go-kids-chat/internal/observability"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
)

const (
	janitorInterval = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion())
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(sctx); err != nil {
				log.Warn().Err(err).Msg("otel shutdown")
			}
		}()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		srv := &http.Server{
			Addr:              net.JoinHostPort("", cfg.Port),
			Handler:           a.router(),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Str("version", appVersion()).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			a.janitor(gctx, janitorInterval)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			log.Info().Msg("shutting down")
			return srv.Shutdown(sctx)
		})
		return g.Wait()
	},
}

// janitor drops expired idempotency records and verification codes until
// ctx ends.
func (a *app) janitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		a.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (a *app) sweep(ctx context.Context) {
	now := time.Now().UTC()
	if n, err := repo.PurgeExpiredIdempotency(ctx, a.db, now); err != nil {
		log.Warn().Err(err).Msg("purge idempotency")
	} else if n > 0 {
		log.Debug().Int64("removed", n).Msg("idempotency records purged")
	}
	if n, err := a.auth.CleanupCodes(ctx); err != nil {
		log.Warn().Err(err).Msg("cleanup verification codes")
	} else if n > 0 {
		log.Debug().Int("removed", n).Msg("verification codes purged")
	}
}
