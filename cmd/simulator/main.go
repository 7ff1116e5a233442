// Command simulator runs the UserAgent reference client population against
// a running batchserver, per spec.md §4.6/§6. Defaults mirror
// original_source/simulator/src/main.rs's structopt Opt.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcn-coalition/rendezvous/internal/config"
	"github.com/tcn-coalition/rendezvous/internal/simulator"
)

func main() {
	config.LoadDotEnv()
	v := viper.New()
	v.SetEnvPrefix("SIMULATOR")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "simulator",
		Short: "drives a population of reference clients against a batchserver",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, logLevel := config.ReadSimulatorConfig(v)
			return run(cmd.Context(), params, logLevel)
		},
	}
	config.BindSimulatorFlags(cmd, v)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, params simulator.Params, logLevel string) error {
	log := logrus.New()
	log.SetLevel(config.ParseLogLevel(logLevel))
	log.WithField("options", params).Info("launching simulation")

	sim := simulator.New(params, clock.New(), log)
	if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	log.WithField("matches", len(sim.Matches())).Info("simulation complete")
	return nil
}
