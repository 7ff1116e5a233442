// Package simulator implements the UserAgent reference client described in
// spec.md §4.6: it drives the KeySchedule ratchet in wall time, broadcasts
// and observes TCNs over a BroadcastBus, occasionally changes shards,
// periodically fetches and matches past batches from a BatchService, and
// reports upon simulated infection. Defaults and the per-tick algorithm are
// grounded on original_source/simulator/src/{main,user}.rs, restructured
// around the teacher's cobra/viper CLI idiom (see internal/config) rather
// than structopt.
package simulator

import "time"

// Params is the simulator's CLI surface, spec.md §6: "all with the defaults
// in the source" — the defaults below reproduce
// original_source/simulator/src/main.rs's Opt exactly.
type Params struct {
	TimeWarp                float64
	ServerURL                string
	ServerBatchInterval      time.Duration
	ContactProbability       float64
	ShardChangeProbability   float64
	TCKRotation              time.Duration
	RAKRotation              time.Duration
	IncubationPeriodDays     uint64
	NumUsers                 int
	NumShards                uint64
	ReportProbability        float64
	SimulationDays           uint64
}

// DefaultParams returns the simulator's defaults, matching the original
// Rust structopt definitions field for field.
func DefaultParams() Params {
	return Params{
		TimeWarp:               3600,
		ServerURL:              "http://127.0.0.1:3030",
		ServerBatchInterval:    6 * time.Second,
		ContactProbability:     0.0001,
		ShardChangeProbability: 0.00001,
		TCKRotation:            300 * time.Second,
		RAKRotation:            86400 * time.Second,
		IncubationPeriodDays:   14,
		NumUsers:               100,
		NumShards:              10,
		ReportProbability:      0.01,
		SimulationDays:         28,
	}
}

// TCKsPerRAK is the number of TCK ratchet steps within one RAK's lifetime.
func (p Params) TCKsPerRAK() uint16 {
	return uint16(p.RAKRotation / p.TCKRotation)
}

// MaxTicks is the number of TCK-rotation ticks in the whole simulation.
func (p Params) MaxTicks() uint64 {
	return p.SimulationDays * 86400 * uint64(time.Second) / uint64(p.TCKRotation)
}

// WarpedTCKRotation is the real-time interval between ticks once TimeWarp is
// applied — "all times marked (simtime) will be divided by this factor."
func (p Params) WarpedTCKRotation() time.Duration {
	return time.Duration(float64(p.TCKRotation) / p.TimeWarp)
}

// RAKsToReport is the number of most-recent RAKs covered by a report sent
// upon simulated infection: incubation_period_days / rak_rotation_days.
func (p Params) RAKsToReport() int {
	return int(p.IncubationPeriodDays * 86400 * uint64(time.Second) / uint64(p.RAKRotation))
}
