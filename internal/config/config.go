// Package config wires cobra flags, viper-bound environment variables, and
// an optional .env file into the two binaries' typed configuration structs,
// generalizing the teacher's cmd/explorer (godotenv + viper.AutomaticEnv)
// and cmd/synnergy (cobra flags) into one shared loader.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcn-coalition/rendezvous/internal/simulator"
)

// LoadDotEnv loads a .env file if present, matching the teacher's
// best-effort, non-fatal godotenv.Load calls.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
}

// ParseLogLevel resolves a --log-level flag value to a logrus.Level,
// defaulting to Info on an empty or unrecognized string.
func ParseLogLevel(s string) logrus.Level {
	if s == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// ServerConfig is the batchserver binary's CLI surface, spec.md §6: "CLI
// surface (server): --seconds-per-batch N (default 21600), --address
// HOST:PORT (default 127.0.0.1:3030)".
type ServerConfig struct {
	SecondsPerBatch uint64
	Address         string
	LogLevel        string
}

// BindServerFlags registers the batchserver flags on cmd and binds them
// through viper so environment variables under v's prefix and a loaded
// .env file can override them, following the teacher's AutomaticEnv pattern.
func BindServerFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().Uint64("seconds-per-batch", 21600, "batch interval in seconds")
	cmd.Flags().String("address", "127.0.0.1:3030", "listen address")
	cmd.Flags().String("log-level", "info", "logrus level")
	_ = v.BindPFlag("seconds-per-batch", cmd.Flags().Lookup("seconds-per-batch"))
	_ = v.BindPFlag("address", cmd.Flags().Lookup("address"))
	_ = v.BindPFlag("log-level", cmd.Flags().Lookup("log-level"))
}

// ReadServerConfig reads the bound flags/env into a ServerConfig.
func ReadServerConfig(v *viper.Viper) ServerConfig {
	return ServerConfig{
		SecondsPerBatch: v.GetUint64("seconds-per-batch"),
		Address:         v.GetString("address"),
		LogLevel:        v.GetString("log-level"),
	}
}

// BindSimulatorFlags registers every flag spec.md §6 names for the
// simulator binary, with defaults matching simulator.DefaultParams().
func BindSimulatorFlags(cmd *cobra.Command, v *viper.Viper) {
	d := simulator.DefaultParams()
	cmd.Flags().Float64("time-warp", d.TimeWarp, "global time scale factor")
	cmd.Flags().String("server", d.ServerURL, "server URL")
	cmd.Flags().Uint64("server-batch-interval", uint64(d.ServerBatchInterval/time.Second), "server batch interval, in seconds (realtime)")
	cmd.Flags().Float64("contact-probability", d.ContactProbability, "contact probability per tck interval")
	cmd.Flags().Float64("shard-change-probability", d.ShardChangeProbability, "shard change probability per tck interval")
	cmd.Flags().Uint64("tck-rotation-secs", uint64(d.TCKRotation/time.Second), "tck rotation interval, in seconds (simtime)")
	cmd.Flags().Uint64("rak-rotation-secs", uint64(d.RAKRotation/time.Second), "rak rotation interval, in seconds (simtime)")
	cmd.Flags().Uint64("incubation-period-days", d.IncubationPeriodDays, "days of history to report upon infection")
	cmd.Flags().IntP("num-users", "n", d.NumUsers, "number of users to simulate")
	cmd.Flags().Uint64("num-shards", d.NumShards, "number of shards")
	cmd.Flags().Float64("report-probability", d.ReportProbability, "probability a user becomes infected per rak interval")
	cmd.Flags().Uint64("simulation-days", d.SimulationDays, "number of days to run the simulation (simtime)")
	cmd.Flags().String("log-level", "info", "logrus level")

	for _, name := range []string{
		"time-warp", "server", "server-batch-interval", "contact-probability",
		"shard-change-probability", "tck-rotation-secs", "rak-rotation-secs",
		"incubation-period-days", "num-users", "num-shards", "report-probability",
		"simulation-days", "log-level",
	} {
		_ = v.BindPFlag(name, cmd.Flags().Lookup(name))
	}
}

// ReadSimulatorConfig reads the bound flags/env into a simulator.Params plus
// the log level, which simulator.Params itself does not carry.
func ReadSimulatorConfig(v *viper.Viper) (simulator.Params, string) {
	p := simulator.Params{
		TimeWarp:               v.GetFloat64("time-warp"),
		ServerURL:              v.GetString("server"),
		ServerBatchInterval:    time.Duration(v.GetInt64("server-batch-interval")) * time.Second,
		ContactProbability:     v.GetFloat64("contact-probability"),
		ShardChangeProbability: v.GetFloat64("shard-change-probability"),
		TCKRotation:            time.Duration(v.GetInt64("tck-rotation-secs")) * time.Second,
		RAKRotation:            time.Duration(v.GetInt64("rak-rotation-secs")) * time.Second,
		IncubationPeriodDays:   v.GetUint64("incubation-period-days"),
		NumUsers:               v.GetInt("num-users"),
		NumShards:              v.GetUint64("num-shards"),
		ReportProbability:      v.GetFloat64("report-probability"),
		SimulationDays:         v.GetUint64("simulation-days"),
	}
	return p, v.GetString("log-level")
}
