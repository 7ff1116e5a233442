// Package timebucket maps wall-clock time to the contiguous, equal-length
// buckets described in spec.md §4.3. A Clock is injected rather than calling
// time.Now() directly so tests can drive the bucket boundary deterministically
// (see benbjohnson/clock.Mock in the test file), the idiomatic Go answer to
// the teacher's need for a "current time" abstraction.
package timebucket

import (
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
)

// Timestamp is a ReportTimestamp: floor(unix_seconds / batch_interval).
type Timestamp uint64

// ParseTimestamp parses a decimal string into a Timestamp, the form used in
// the get_reports URL path segment.
func ParseTimestamp(s string) (Timestamp, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Timestamp(v), nil
}

// String renders the canonical decimal form, the same form ParseTimestamp
// accepts.
func (t Timestamp) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// Bucket computes Timestamps given a batch interval and a Clock.
type Bucket struct {
	interval time.Duration
	clk      clock.Clock
}

// New returns a Bucket with the given batch interval, using the real wall
// clock. secondsPerBatch must be positive.
func New(secondsPerBatch uint64) *Bucket {
	return NewWithClock(secondsPerBatch, clock.New())
}

// NewWithClock returns a Bucket driven by an injected Clock, used by tests
// to pin "now" to an exact boundary.
func NewWithClock(secondsPerBatch uint64, clk clock.Clock) *Bucket {
	return &Bucket{interval: time.Duration(secondsPerBatch) * time.Second, clk: clk}
}

// Now floor-divides the current wall time by the batch interval.
func (b *Bucket) Now() Timestamp {
	return b.At(b.clk.Now())
}

// At computes the Timestamp containing t.
func (b *Bucket) At(t time.Time) Timestamp {
	secs := t.Unix()
	if secs < 0 {
		secs = 0
	}
	return Timestamp(uint64(secs) / uint64(b.interval/time.Second))
}

// Start returns the inclusive start instant of ts.
func (b *Bucket) Start(ts Timestamp) time.Time {
	return time.Unix(int64(uint64(ts)*uint64(b.interval/time.Second)), 0).UTC()
}

// End returns the last instant still inside ts: the start of the next bucket
// minus one nanosecond, i.e. (ts+1)*interval - 1ns. End(ts) itself belongs
// to ts.
func (b *Bucket) End(ts Timestamp) time.Time {
	next := time.Unix(int64((uint64(ts)+1)*uint64(b.interval/time.Second)), 0).UTC()
	return next.Add(-time.Nanosecond)
}
