package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chadiek/covercall/internal/config"
	"github.com/chadiek/covercall/internal/sink"
)

func newSinkCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sink",
		Short: "Run the dispatch sink that receives emergency records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSink(ctx, cfg, log)
		},
	}
}

func openStore(ctx context.Context, cfg config.Sink) (sink.Store, func(), error) {
	if cfg.RedisURL == "" {
		return sink.NewMemoryStore(cfg.Capacity), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return sink.NewRedisStore(client, cfg.RedisKey, cfg.Capacity), func() { _ = client.Close() }, nil
}

func runSink(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	store, closeStore, err := openStore(ctx, cfg.Sink)
	if err != nil {
		return err
	}
	defer closeStore()

	server := &http.Server{
		Addr:              cfg.Sink.Address,
		Handler:           sink.NewServer(store, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.Sink.Address).Info("dispatch sink listening")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(sctx)
}
