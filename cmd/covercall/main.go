// Command covercall runs the disguised emergency call service, the dispatch
// sink it reports to, and a local console call for testing with a headset.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chadiek/covercall/internal/config"
	"github.com/chadiek/covercall/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "covercall",
		Short:         "Covert emergency calls disguised as a pizza order",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "optional YAML config file")
	root.AddCommand(newServeCmd(&flags), newSinkCmd(&flags), newConsoleCmd(&flags))
	return root
}

// setup loads configuration and builds the process logger.
func setup(flags *rootFlags) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}
	return cfg, log, nil
}
