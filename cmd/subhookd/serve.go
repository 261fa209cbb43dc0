package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/subhook/internal/config"
	subhttp "github.com/mihaimyh/subhook/middleware/http"
	"github.com/mihaimyh/subhook/pkg/events"
	"github.com/mihaimyh/subhook/pkg/stripe"
	"github.com/mihaimyh/subhook/pkg/subhook"
	zerologadapter "github.com/mihaimyh/subhook/pkg/subhook/logger/zerolog"
	prommetrics "github.com/mihaimyh/subhook/pkg/subhook/metrics/prometheus"
)

const healthTimeout = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and metrics listeners",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func newLogger(cfg *config.Config) subhook.Logger {
	return zerologadapter.NewLogger(zerologadapter.New(os.Stderr, cfg.Log.Level, cfg.Log.Format))
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing storage", subhook.F("error", err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := prommetrics.NewMetrics(reg, "subhook")

	var publisher events.Publisher = &events.NoopPublisher{}
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, nats.Name("subhookd"))
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("profile events enabled", subhook.F("nats_url", cfg.Events.NATSURL), subhook.F("subject", cfg.Events.Subject))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", subhook.F("error", err))
		}
	}()

	processor, err := stripe.NewProcessor(stripe.Config{
		WebhookSecret:      cfg.Stripe.WebhookSecret,
		APIKey:             cfg.Stripe.APIKey,
		Events:             store.store,
		Profiles:           store.store,
		UserIDMetadataKey:  cfg.Stripe.UserIDMetadataKey,
		SignatureTolerance: cfg.Stripe.SignatureTolerance,
		MaxBodyBytes:       cfg.Stripe.MaxBodyBytes,
		RateLimitRequests:  cfg.Stripe.RateLimitRequests,
		RateLimitWindow:    cfg.Stripe.RateLimitWindow,
		AllowedOrigin:      cfg.Server.AllowedOrigin,
		OnProfileUpdated:   events.ProfileUpdatedHook(publisher, cfg.Events.Subject),
		Logger:             logger,
		Metrics:            metrics,
	})
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Server.ListenAddr,
		Handler:           newRouter(cfg.Server.WebhookPath, processor.WebhookHandler(), store.ping, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", subhook.F("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	logger.Info("subhookd started",
		subhook.F("backend", cfg.Storage.Backend),
		subhook.F("webhook_path", cfg.Server.WebhookPath),
	)
	return g.Wait()
}

// newRouter mounts the webhook handler and a health check. ping may be nil
// for backends with nothing to probe.
func newRouter(webhookPath string, webhook http.Handler, ping func(context.Context) error, logger subhook.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(subhttp.RequestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ping != nil {
			ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
			defer cancel()
			if err := ping(ctx); err != nil {
				logger.Warn("health check failed", subhook.F("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle(webhookPath, webhook)
	return r
}
