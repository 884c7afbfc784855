package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/jobcast/internal/log"
	"github.com/CZERTAINLY/jobcast/internal/metrics"
	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/CZERTAINLY/jobcast/internal/notify"
	"github.com/CZERTAINLY/jobcast/internal/service"
	"github.com/CZERTAINLY/jobcast/internal/web"
)

// shutdownTimeout bounds the graceful stop of workers and the http server
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP API launching and streaming configured jobs",
	RunE:  doServe,
}

// newRegistry builds a registry from the service configuration.
func newRegistry(cfg model.Config, opts ...service.RegistryOption) (*service.Registry, error) {
	retention, err := cfg.Service.RetentionDuration()
	if err != nil {
		return nil, fmt.Errorf("parsing service.retention: %w", err)
	}
	opts = append([]service.RegistryOption{
		service.WithRetention(retention),
		service.WithBuffer(cfg.Service.Buffer),
		service.WithLaunchSpecs(cfg.Jobs),
	}, opts...)
	return service.NewRegistry(opts...), nil
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("jobcast",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo(buildInfo())

	opts := []service.RegistryOption{
		service.WithObserver(metrics.Observe),
		service.WithDropHook(metrics.SubscriberDropped),
	}
	if config.Service.NATSEnabled() {
		nc, err := notify.Connect(config.Service.NATS.URL, config.Service.NATS.Subject)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer nc.Close()
		opts = append(opts, service.WithObserver(nc.Observe))
		slog.InfoContext(ctx, "mirroring events to nats", "url", config.Service.NATS.URL, "subject", config.Service.NATS.Subject)
	}

	reg, err := newRegistry(config, opts...)
	if err != nil {
		return err
	}

	sweeper, err := service.NewSweeper(ctx, config.Service.Sweep, service.SweepRegistry(ctx, reg, metrics.JobsEvicted))
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              config.Service.Listen,
		Handler:           web.NewServer(reg, web.WithToken(config.Service.Token())).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errs := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "listening", "addr", srv.Addr, "job_types", reg.Types())
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	slog.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	// ends the event streams too
	regErr := reg.Close(shutdownCtx)
	srvErr := srv.Shutdown(shutdownCtx)
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		srvErr = errors.Join(srvErr, err)
	}
	return errors.Join(regErr, srvErr)
}
