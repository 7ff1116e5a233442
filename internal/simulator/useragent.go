package simulator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	mrand "github.com/ericlagergren/saferand"
	"github.com/sirupsen/logrus"

	"github.com/tcn-coalition/rendezvous/internal/broadcastbus"
	"github.com/tcn-coalition/rendezvous/internal/reportcodec"
	"github.com/tcn-coalition/rendezvous/internal/shard"
	"github.com/tcn-coalition/rendezvous/internal/tcn"
)

// rakHistoryEntry pairs a past RAK with the set of shards it was ever
// broadcast on, per spec.md §4.6's "list of past (RAK, set-of-shards)".
type rakHistoryEntry struct {
	rak    *tcn.RAK
	shards map[shard.ID]struct{}
}

// MatchEvent is emitted when a UserAgent's periodic fetch turns up a
// reported TCN it previously observed — spec.md §4.6 step 5.
type MatchEvent struct {
	UserID int
	TCN    tcn.TCN
}

// UserAgent is the reference client: per-tick ratchet state, a shard
// membership history, and an observed-TCN set, all exclusively owned by the
// agent (spec.md §3).
type UserAgent struct {
	id     int
	params Params
	bus    *broadcastbus.Bus
	client *http.Client
	clk    clock.Clock
	log    *logrus.Entry
	onMatch func(MatchEvent)

	history      []rakHistoryEntry
	tck          tcn.TCK
	currentShard shard.ID
	shardHist    map[shard.ID]struct{}
	observed     map[tcn.TCN]struct{}
	receiver     *broadcastbus.Receiver
	lastFetch    time.Time
}

// NewUserAgent constructs a UserAgent with a fresh RAK on a uniformly
// random starting shard, subscribed to that shard's BroadcastBus.
func NewUserAgent(id int, params Params, bus *broadcastbus.Bus, clk clock.Clock, log *logrus.Logger, onMatch func(MatchEvent)) (*UserAgent, error) {
	rak, err := tcn.NewRAK()
	if err != nil {
		return nil, err
	}
	startShard, err := randomShard(params.NumShards)
	if err != nil {
		return nil, err
	}
	u := &UserAgent{
		id:           id,
		params:       params,
		bus:          bus,
		client:       &http.Client{Timeout: 10 * time.Second},
		clk:          clk,
		log:          log.WithField("user", id),
		onMatch:      onMatch,
		history:      []rakHistoryEntry{{rak: rak, shards: map[shard.ID]struct{}{startShard: {}}}},
		tck:          tcn.InitialTCK(rak),
		currentShard: startShard,
		shardHist:    map[shard.ID]struct{}{startShard: {}},
		observed:     make(map[tcn.TCN]struct{}),
		lastFetch:    clk.Now(),
	}
	u.receiver = bus.Subscribe(startShard)
	return u, nil
}

func randomShard(numShards uint64) (shard.ID, error) {
	if numShards == 0 {
		return 0, fmt.Errorf("simulator: num-shards must be positive")
	}
	return shard.ID(mrand.Intn(int(numShards))), nil
}

func bernoulli(p float64) (bool, error) {
	return mrand.Float64() < p, nil
}

// Run drives the agent for params.MaxTicks() ticks of warped TCK-rotation
// time, or until ctx is cancelled.
func (u *UserAgent) Run(ctx context.Context) error {
	ticker := u.clk.Ticker(u.params.WarpedTCKRotation())
	defer ticker.Stop()

	max := u.params.MaxTicks()
	for i := uint64(0); i < max; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := u.tick(ctx, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// tick runs one iteration of spec.md §4.6's six numbered steps, in order.
func (u *UserAgent) tick(ctx context.Context, now time.Time) error {
	shouldReport, err := u.maybeRotateRAK()
	if err != nil {
		return err
	}

	if err := u.broadcast(); err != nil {
		return err
	}

	if err := u.observe(); err != nil {
		return err
	}

	if err := u.maybeChangeShard(); err != nil {
		return err
	}

	if now.Sub(u.lastFetch) >= u.params.ServerBatchInterval {
		u.fetchReports(ctx)
		u.lastFetch = now
	}

	if shouldReport {
		u.sendReports(ctx)
	}
	return nil
}

// maybeRotateRAK is step 1: past tcksPerRak, retire the current RAK into
// history and draw a fresh one, then decide whether this round reports.
func (u *UserAgent) maybeRotateRAK() (bool, error) {
	if u.tck.Index() <= u.params.TCKsPerRAK() {
		return false, nil
	}

	rak, err := tcn.NewRAK()
	if err != nil {
		return false, err
	}
	u.tck = tcn.InitialTCK(rak)
	u.history = append(u.history, rakHistoryEntry{rak: rak, shards: map[shard.ID]struct{}{u.currentShard: {}}})
	return bernoulli(u.params.ReportProbability)
}

// broadcast is step 2: emit the current TCN then ratchet in place.
func (u *UserAgent) broadcast() error {
	u.bus.Publish(u.currentShard, u.tck.Number())
	next, err := u.tck.Ratchet()
	if err != nil {
		return err
	}
	u.tck = next
	return nil
}

// observe is step 3: drain the current shard's receiver non-blockingly.
func (u *UserAgent) observe() error {
	return u.receiver.Drain(
		func(n tcn.TCN) {
			heard, err := bernoulli(u.params.ContactProbability)
			if err != nil {
				u.log.WithError(err).Warn("contact-probability draw failed; treating as unheard")
				return
			}
			if heard {
				u.observed[n] = struct{}{}
			}
		},
		func(skipped uint64) {
			u.log.WithField("skipped", skipped).Warn("could not keep up with broadcasts")
		},
	)
}

// maybeChangeShard is step 4: with shard_change_probability, move to a new
// uniformly random shard, folding the old one into both histories.
func (u *UserAgent) maybeChangeShard() error {
	change, err := bernoulli(u.params.ShardChangeProbability)
	if err != nil {
		return err
	}
	if !change {
		return nil
	}
	newShard, err := randomShard(u.params.NumShards)
	if err != nil {
		return err
	}
	u.shardHist[u.currentShard] = struct{}{}
	u.history[len(u.history)-1].shards[u.currentShard] = struct{}{}

	u.currentShard = newShard
	u.receiver = u.bus.Subscribe(newShard)
	return nil
}

// fetchReports is step 5: for every shard visited since the last fetch, pull
// the previous bucket's batch, verify and expand each report, and emit a
// match event for every intersection with observed TCNs. A 404 is silent.
func (u *UserAgent) fetchReports(ctx context.Context) {
	for sh := range u.shardHist {
		u.fetchOneShard(ctx, sh)
	}
	u.shardHist = map[shard.ID]struct{}{u.currentShard: {}}
}

func (u *UserAgent) fetchOneShard(ctx context.Context, sh shard.ID) {
	nowBucket := uint64(u.clk.Now().Unix()) / uint64(u.params.ServerBatchInterval/time.Second)
	if nowBucket == 0 {
		return
	}
	prevBucket := nowBucket - 1

	url := fmt.Sprintf("%s/get_reports/%s/%d", u.params.ServerURL, sh.String(), prevBucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		u.log.WithError(err).Warn("building fetch request failed")
		return
	}
	resp, err := u.client.Do(req)
	if err != nil {
		u.log.WithError(err).Warn("fetch failed; will retry next cycle")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return
	}
	if resp.StatusCode != http.StatusOK {
		u.log.WithField("status", resp.StatusCode).Warn("unexpected fetch status")
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		u.log.WithError(err).Warn("reading fetch body failed")
		return
	}

	reports := reportcodec.ReadAll(bytes.NewReader(body), func(err error) {
		u.log.WithError(err).Debug("discarding malformed report in batch")
	})
	for _, sr := range reports {
		report, err := tcn.Verify(sr)
		if err != nil {
			u.log.WithError(err).Warn("got report with invalid signature")
			continue
		}
		expanded, err := tcn.Expand(report)
		if err != nil {
			u.log.WithError(err).Warn("expand failed")
			continue
		}
		for n := range expanded {
			if _, ok := u.observed[n]; ok && u.onMatch != nil {
				u.onMatch(MatchEvent{UserID: u.id, TCN: n})
			}
		}
	}
}

// sendReports is step 6: build and submit a SignedReport covering each of
// the last RAKsToReport() *retired* RAKs, one submission per shard that RAK
// visited. The most recent history entry is always the RAK just drawn by
// this tick's maybeRotateRAK and has broadcast at most one TCN, so it is
// skipped here: reporting starts at the RAK that just completed a full
// tcksPerRak lifetime.
func (u *UserAgent) sendReports(ctx context.Context) {
	last := len(u.history) - 2
	if last < 0 {
		return
	}
	n := u.params.RAKsToReport()
	start := last - n + 1
	if start < 0 {
		start = 0
	}
	tcksPerRak := u.params.TCKsPerRAK()

	for i := last; i >= start; i-- {
		entry := u.history[i]
		report, err := tcn.CreateReport(entry.rak, tcn.MemoTypeCoEpiV1, nil, 1, tcksPerRak+1)
		if err != nil {
			u.log.WithError(err).Warn("building report failed")
			continue
		}
		var buf bytes.Buffer
		if err := reportcodec.Write(report, &buf); err != nil {
			u.log.WithError(err).Warn("encoding report failed")
			continue
		}
		for sh := range entry.shards {
			u.submitTo(ctx, sh, buf.Bytes())
		}
	}
}

func (u *UserAgent) submitTo(ctx context.Context, sh shard.ID, body []byte) {
	url := fmt.Sprintf("%s/submit/%s", u.params.ServerURL, sh.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		u.log.WithError(err).Warn("building submit request failed")
		return
	}
	resp, err := u.client.Do(req)
	if err != nil {
		u.log.WithError(err).Warn("submit failed; dropping (next rotation will overlap)")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		u.log.WithField("status", resp.StatusCode).Warn("submit rejected")
	}
}
