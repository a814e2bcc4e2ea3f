package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"v1auth/internal/v1auth"
	"v1auth/pkg/config"
	"v1auth/pkg/logger"
	"v1auth/pkg/middleware"
)

const purgeInterval = 5 * time.Minute

func newRouter(cfg config.Config, log logger.Sugared, svc *v1auth.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(log))
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing("v1auth", log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Legacy clients hit /auth, /v1.0 and /v1/<tenant>/auth under the prefix; the handler
	// itself tells malformed shapes apart.
	h := v1auth.NewHandler(svc, cfg.AuthPrefix, log)
	r.Handle(cfg.AuthPrefix+"/*", h)
	return r
}

func serve(ctx context.Context, cfg config.Config, log logger.Sugared) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := v1auth.New(st.identity, st.tokens, st.catalog, v1auth.Options{
		URLType:     cfg.URLType,
		ServiceType: cfg.ServiceType,
		SwiftRole:   cfg.SwiftRole,
		TokenTTL:    cfg.TokenTTL,
	}, log)

	if st.purger != nil {
		go purgeLoop(ctx, st.purger, log)
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: newRouter(cfg, log, svc)}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("v1auth listening", "addr", cfg.HTTPAddr, "prefix", cfg.AuthPrefix,
			"service_type", cfg.ServiceType, "url_type", cfg.URLType, "swift_role", cfg.SwiftRole)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = middleware.ShutdownTracing(shutdownCtx)
	log.Infow("v1auth stopped")
	return nil
}

func purgeLoop(ctx context.Context, p purger, log logger.Sugared) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := p.PurgeExpired(ctx); err != nil {
				log.Warnw("token purge", "err", err)
			} else if n > 0 {
				log.Debugw("token purge", "removed", n)
			}
		}
	}
}
