package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chadiek/covercall/internal/config"
	"github.com/chadiek/covercall/internal/device"
	"github.com/chadiek/covercall/internal/dialog"
	"github.com/chadiek/covercall/internal/metrics"
)

func newConsoleCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Place a call from the local microphone and speaker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return console(ctx, cfg, log)
		},
	}
}

func console(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	c, err := buildCore(ctx, cfg, metrics.New("covercall"), log)
	if err != nil {
		return err
	}
	dev, err := device.Open(log)
	if err != nil {
		return err
	}
	defer dev.Close()

	s, err := c.sessions.Start(ctx, "console", dev.Output(), device.SpeakerRate, dialog.StartOptions{
		OnState: func(st dialog.State) { log.WithField("state", st.String()).Debug("console state") },
	})
	if err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		s.Close()
		return err
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	var g errgroup.Group
	g.Go(func() error { return c.worker.Run(workerCtx) })
	g.Go(func() error {
		defer stopWorker()
		frames := dev.Frames()
		for {
			select {
			case <-s.Done():
				if n := dev.Dropped(); n > 0 {
					log.WithField("dropped", n).Warn("capture frames dropped")
				}
				return nil
			case pcm := <-frames:
				if err := s.Feed(pcm); err != nil {
					return nil
				}
			}
		}
	})
	err = g.Wait()
	if v := s.Snapshot(); v.Error != "" {
		log.WithField("error", v.Error).Error("console call failed")
	}
	return err
}
