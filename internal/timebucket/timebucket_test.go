package timebucket

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestStartBeforeEnd(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_123, 0))
	b := NewWithClock(6, mock)

	ts := b.Now()
	if !b.Start(ts).Before(b.End(ts)) {
		t.Fatalf("start %v not before end %v", b.Start(ts), b.End(ts))
	}
}

func TestBucketsAreContiguous(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	b := NewWithClock(21600, mock)

	ts := b.Now()
	next := Timestamp(ts + 1)

	if !b.Start(next).After(b.End(ts)) {
		t.Fatalf("next bucket start %v must be after this bucket's end %v", b.Start(next), b.End(ts))
	}
	gap := b.Start(next).Sub(b.End(ts))
	if gap != time.Nanosecond {
		t.Fatalf("gap between end and next start = %v, want 1ns", gap)
	}
}

func TestAtMatchesNow(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	b := NewWithClock(3600, mock)

	if got := b.At(mock.Now()); got != b.Now() {
		t.Fatalf("At(Now()) = %v, want %v", got, b.Now())
	}
}

func TestFromStartAndEndMapBack(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_012_345, 0))
	b := NewWithClock(6, mock)
	ts := b.Now()

	if got := b.At(b.Start(ts)); got != ts {
		t.Fatalf("At(Start(ts)) = %v, want %v", got, ts)
	}
	if got := b.At(b.End(ts)); got != ts {
		t.Fatalf("At(End(ts)) = %v, want %v", got, ts)
	}
}
