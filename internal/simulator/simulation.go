package simulator

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tcn-coalition/rendezvous/internal/broadcastbus"
)

// Simulation owns the shared BroadcastBus and every UserAgent, mirroring
// original_source/simulator/src/main.rs's per-shard channel map and
// FuturesUnordered pool of spawned users.
type Simulation struct {
	params Params
	bus    *broadcastbus.Bus
	clk    clock.Clock
	log    *logrus.Logger

	mu      sync.Mutex
	matches []MatchEvent
}

// New constructs a Simulation with one BroadcastBus ring per shard, sized
// num_users*20 per original_source's "tcn_broadcast_buffer_size".
func New(params Params, clk clock.Clock, log *logrus.Logger) *Simulation {
	capacity := params.NumUsers * 20
	if capacity <= 0 {
		capacity = broadcastbus.DefaultCapacity
	}
	return &Simulation{
		params: params,
		bus:    broadcastbus.NewWithCapacity(capacity),
		clk:    clk,
		log:    log,
	}
}

func (s *Simulation) recordMatch(ev MatchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, ev)
	s.log.WithFields(logrus.Fields{"user": ev.UserID}).Info("match: report covers a locally observed tcn")
}

// Matches returns every match event recorded so far.
func (s *Simulation) Matches() []MatchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MatchEvent(nil), s.matches...)
}

// Run constructs params.NumUsers UserAgents, staggering their startup by 1ms
// each as original_source does ("Stagger the start of each user"), and runs
// them to completion or until ctx is cancelled.
func (s *Simulation) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for id := 0; id < s.params.NumUsers; id++ {
		id := id
		select {
		case <-gctx.Done():
			return g.Wait()
		case <-time.After(time.Millisecond):
		}

		agent, err := NewUserAgent(id, s.params, s.bus, s.clk, s.log, s.recordMatch)
		if err != nil {
			return err
		}
		g.Go(func() error { return agent.Run(gctx) })
	}

	return g.Wait()
}
