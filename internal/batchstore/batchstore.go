// Package batchstore implements the server's sharded, time-bucketed storage
// state machine described in spec.md §4.4: a nested map keyed by shard then
// bucket, each slot Open while accepting submissions and Sealed forever once
// read for a past bucket. All state transitions happen under a single mutex,
// per spec.md §5 ("the only cross-task critical section").
package batchstore

import (
	"sync"

	mrand "github.com/ericlagergren/saferand"

	"github.com/tcn-coalition/rendezvous/internal/apperr"
	"github.com/tcn-coalition/rendezvous/internal/reportcodec"
	"github.com/tcn-coalition/rendezvous/internal/shard"
	"github.com/tcn-coalition/rendezvous/internal/tcn"
	"github.com/tcn-coalition/rendezvous/internal/timebucket"
)

// entry is a StorageEntry: either Open and accepting reports, or Sealed and
// read-only. Per spec.md §9's adopted design, a sealed entry retains only
// the serialized bytes, not the original report objects.
type entry struct {
	open   []*tcn.SignedReport // nil once sealed
	sealed []byte              // nil until sealed
}

func (e *entry) isSealed() bool { return e.sealed != nil }

// seal shuffles the open reports with a CSPRNG and serializes them, per
// spec.md §4.4 ("shuffles it uniformly using a cryptographic RNG"). It is
// idempotent: calling it on an already-sealed entry is a no-op.
func (e *entry) seal() error {
	if e.isSealed() {
		return nil
	}
	reports := e.open
	mrand.Shuffle(len(reports), func(i, j int) {
		reports[i], reports[j] = reports[j], reports[i]
	})
	bytes, err := reportcodec.WriteBatch(reports)
	if err != nil {
		return apperr.Wrap(apperr.New(apperr.KindInternalBug, err.Error()), "seal: serialize batch")
	}
	e.sealed = bytes
	if e.sealed == nil {
		e.sealed = []byte{} // a sealed-but-empty entry must still be "sealed", not nil
	}
	e.open = nil
	return nil
}

// Store is the BatchStore: Shard -> ReportTimestamp -> entry, guarded by a
// single mutex held for the full duration of Submit/Fetch, including seal.
type Store struct {
	mu   sync.Mutex
	data map[shard.ID]map[timebucket.Timestamp]*entry
}

// New returns an empty Store. A Store lives for the process, per spec.md §3.
func New() *Store {
	return &Store{data: make(map[shard.ID]map[timebucket.Timestamp]*entry)}
}

// Submit appends report to the (shard, now) slot, creating it if absent.
// It fails with apperr.KindClockRewound if that slot is already Sealed.
// The caller is responsible for verifying the report's signature first;
// Submit trusts the bytes it is given, per spec.md §4.4.
func (s *Store) Submit(sh shard.ID, report *tcn.SignedReport, now timebucket.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, ok := s.data[sh]
	if !ok {
		buckets = make(map[timebucket.Timestamp]*entry)
		s.data[sh] = buckets
	}
	e, ok := buckets[now]
	if !ok {
		e = &entry{}
		buckets[now] = e
	}
	if e.isSealed() {
		return apperr.New(apperr.KindClockRewound, "bucket is already sealed; is time broken?")
	}
	e.open = append(e.open, report)
	return nil
}

// Fetch returns the sealed bytes for (shard, ts). It fails with
// apperr.KindEmbargoCurrent if ts is the current bucket, apperr.KindNotFoundShard
// if the shard has never received a submission, and apperr.KindNotFoundBucket
// if that shard has no entry for ts. A still-Open entry for a past bucket is
// sealed as a side effect of this call — "seal on first read" (spec.md §4.4).
func (s *Store) Fetch(sh shard.ID, ts, now timebucket.Timestamp) ([]byte, error) {
	if ts == now {
		return nil, apperr.New(apperr.KindEmbargoCurrent, "cannot fetch the current bucket")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, ok := s.data[sh]
	if !ok {
		return nil, apperr.New(apperr.KindNotFoundShard, "no entries for this shard")
	}
	e, ok := buckets[ts]
	if !ok {
		return nil, apperr.New(apperr.KindNotFoundBucket, "no entries for this bucket")
	}
	if err := e.seal(); err != nil {
		return nil, apperr.Wrap(err, "fetch: seal on first read")
	}
	out := make([]byte, len(e.sealed))
	copy(out, e.sealed)
	return out, nil
}
