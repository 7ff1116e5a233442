// Command batchserver runs the BatchService HTTP server described in
// spec.md §4.5/§6: a sharded, time-bucketed rendezvous point for signed
// reports. Flags follow the teacher's cobra/viper CLI idiom.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcn-coalition/rendezvous/internal/batchstore"
	"github.com/tcn-coalition/rendezvous/internal/config"
	"github.com/tcn-coalition/rendezvous/internal/httpapi"
	"github.com/tcn-coalition/rendezvous/internal/timebucket"
)

func main() {
	config.LoadDotEnv()
	v := viper.New()
	v.SetEnvPrefix("BATCHSERVER")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "batchserver",
		Short: "sharded, time-bucketed report rendezvous service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(config.ReadServerConfig(v))
		},
	}
	config.BindServerFlags(cmd, v)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig) error {
	log := logrus.New()
	log.SetLevel(config.ParseLogLevel(cfg.LogLevel))

	bucket := timebucket.New(cfg.SecondsPerBatch)
	store := batchstore.New()
	svc := httpapi.NewService(store, bucket, log)

	server := &http.Server{Addr: cfg.Address, Handler: svc.Router()}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		_ = server.Shutdown(context.Background())
	}()

	log.WithFields(logrus.Fields{
		"address":           cfg.Address,
		"seconds_per_batch": cfg.SecondsPerBatch,
	}).Info("batchserver listening")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
