package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chadiek/covercall/internal/archive"
	"github.com/chadiek/covercall/internal/config"
	"github.com/chadiek/covercall/internal/dialog"
	"github.com/chadiek/covercall/internal/httpserver"
	"github.com/chadiek/covercall/internal/metrics"
	"github.com/chadiek/covercall/internal/rtc"
	"github.com/chadiek/covercall/internal/twilio"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve browser and Twilio calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	m := metrics.New("covercall")
	c, err := buildCore(ctx, cfg, m, log)
	if err != nil {
		return err
	}

	var arch *archive.Archive
	if cfg.Supabase.Enabled() {
		up, err := archive.NewSupabase(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey, cfg.Supabase.Bucket)
		if err != nil {
			return err
		}
		arch = archive.New(up, log)
		c.sessions.OnEnded = func(v dialog.View) {
			if err := arch.SaveTranscript(v); err != nil {
				log.WithError(err).WithField("session_id", v.ID).Warn("transcript archive failed")
			}
		}
	}

	ice, err := rtc.ParseICEServers(cfg.RTC.ICEServersJSON)
	if err != nil {
		return err
	}
	tw := &twilio.Handler{
		Sessions:  c.sessions,
		Archive:   arch,
		AuthToken: cfg.Twilio.AuthToken,
		PublicURL: cfg.Server.PublicURL,
		Record:    cfg.Twilio.Record,
		Log:       log,
	}
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		tw.REST = twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	}

	e := httpserver.New(httpserver.Options{
		Sessions: c.sessions,
		RTC:      rtc.NewHandler(c.sessions, ice, log),
		Twilio:   tw,
		Metrics:  m,
		Password: cfg.RTC.Password,
		Log:      log,
	})
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.worker.Run(workerCtx) })
	g.Go(func() error {
		log.WithField("address", cfg.Server.Address).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
			_ = server.Close()
		}
		if err := c.sessions.Shutdown(sctx); err != nil {
			log.WithError(err).Warn("sessions still running at shutdown")
		}
		// sessions may have forwarded final records; the worker flushes them
		stopWorker()
		return nil
	})
	return g.Wait()
}
