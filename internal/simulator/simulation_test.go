package simulator

import (
	"errors"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/tcn-coalition/rendezvous/internal/broadcastbus"
	"github.com/tcn-coalition/rendezvous/internal/tcn"
)

func TestNewSimulationSizesBusCapacityFromUserCount(t *testing.T) {
	params := testParams()
	params.NumUsers = 50
	sim := New(params, clock.New(), silentLogger())
	if sim == nil {
		t.Fatal("New returned nil")
	}

	// Capacity is NumUsers*20 = 1000: one publish past that makes a receiver
	// lag by exactly one.
	rx := sim.bus.Subscribe(0)
	for i := 0; i < 50*20+1; i++ {
		sim.bus.Publish(0, tcn.TCN{})
	}
	_, err := rx.TryRecv()
	var lagged *broadcastbus.LaggedError
	if !errors.As(err, &lagged) || lagged.Skipped != 1 {
		t.Fatalf("TryRecv after %d publishes = %v, want lag of 1", 50*20+1, err)
	}
}

func TestRecordMatchAccumulates(t *testing.T) {
	sim := New(testParams(), clock.New(), silentLogger())
	sim.recordMatch(MatchEvent{UserID: 1})
	sim.recordMatch(MatchEvent{UserID: 2})
	got := sim.Matches()
	if len(got) != 2 {
		t.Fatalf("Matches() = %v, want 2 entries", got)
	}
}
