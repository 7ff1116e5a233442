// Package broadcastbus implements the per-shard, bounded, lossy fan-out
// described in spec.md §4.5: many producers broadcast TCNs onto a shard, many
// consumers drain them non-blockingly, and a consumer that falls behind sees
// an explicit "lagged by N" outcome instead of silently missing data. This is
// the Go-channel equivalent of the original Rust implementation's
// tokio::sync::broadcast, generalized from the teacher's gossip fan-out in
// core/replication.go (Sample+Subscribe/Unsubscribe) to a monotonic
// sequence-numbered ring per shard.
package broadcastbus

import (
	"errors"
	"sync"

	"github.com/tcn-coalition/rendezvous/internal/shard"
	"github.com/tcn-coalition/rendezvous/internal/tcn"
)

// ErrEmpty is returned by TryRecv when no message is currently available.
var ErrEmpty = errors.New("broadcastbus: empty")

// ErrClosed is returned by TryRecv once the shard's channel has been closed.
// Spec.md §4.6 marks this fatal for the receiving UserAgent.
var ErrClosed = errors.New("broadcastbus: closed")

// LaggedError is returned when a receiver's cursor fell behind the ring's
// retention window; Skipped is the number of TCNs it missed. Spec.md §4.6:
// "a lagged receiver logs a warning and continues."
type LaggedError struct{ Skipped uint64 }

func (e *LaggedError) Error() string { return "broadcastbus: lagged" }

// DefaultCapacity is the ring size used when a Bus is constructed with New.
const DefaultCapacity = 256

type ring struct {
	mu       sync.Mutex
	buf      []tcn.TCN
	capacity uint64
	nextSeq  uint64
	closed   bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]tcn.TCN, capacity), capacity: uint64(capacity)}
}

func (r *ring) publish(n tcn.TCN) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.buf[r.nextSeq%r.capacity] = n
	r.nextSeq++
}

func (r *ring) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Bus holds one bounded ring per shard, created lazily on first use.
type Bus struct {
	mu       sync.Mutex
	capacity int
	rings    map[shard.ID]*ring
}

// New returns a Bus whose per-shard rings hold DefaultCapacity entries.
func New() *Bus { return NewWithCapacity(DefaultCapacity) }

// NewWithCapacity returns a Bus whose per-shard rings hold capacity entries.
func NewWithCapacity(capacity int) *Bus {
	return &Bus{capacity: capacity, rings: make(map[shard.ID]*ring)}
}

func (b *Bus) ringFor(sh shard.ID) *ring {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[sh]
	if !ok {
		r = newRing(b.capacity)
		b.rings[sh] = r
	}
	return r
}

// Publish broadcasts n to every Receiver already subscribed to sh; a
// Receiver subscribed later does not see it. It never blocks: a slow
// consumer's unread entries are simply overwritten.
func (b *Bus) Publish(sh shard.ID, n tcn.TCN) {
	b.ringFor(sh).publish(n)
}

// Close marks sh's channel closed; every Receiver's subsequent TryRecv
// returns ErrClosed once its buffered entries are drained.
func (b *Bus) Close(sh shard.ID) {
	b.ringFor(sh).close()
}

// Receiver reads from one shard's ring starting at the moment it subscribed.
// A Receiver is not safe for concurrent use by multiple goroutines.
type Receiver struct {
	ring   *ring
	cursor uint64
}

// Subscribe returns a Receiver that will observe TCNs published to sh from
// this point forward.
func (b *Bus) Subscribe(sh shard.ID) *Receiver {
	r := b.ringFor(sh)
	r.mu.Lock()
	cursor := r.nextSeq
	r.mu.Unlock()
	return &Receiver{ring: r, cursor: cursor}
}

// TryRecv returns the next unread TCN without blocking. It returns ErrEmpty
// if the receiver is caught up, a *LaggedError if entries were overwritten
// before this receiver read them (the cursor is advanced past the gap so the
// next call returns the oldest entry still retained), or ErrClosed once the
// ring is closed and fully drained.
func (r *Receiver) TryRecv() (tcn.TCN, error) {
	r.ring.mu.Lock()
	defer r.ring.mu.Unlock()

	if r.cursor == r.ring.nextSeq {
		if r.ring.closed {
			return tcn.TCN{}, ErrClosed
		}
		return tcn.TCN{}, ErrEmpty
	}

	oldestRetained := uint64(0)
	if r.ring.nextSeq > r.ring.capacity {
		oldestRetained = r.ring.nextSeq - r.ring.capacity
	}
	if r.cursor < oldestRetained {
		skipped := oldestRetained - r.cursor
		r.cursor = oldestRetained
		return tcn.TCN{}, &LaggedError{Skipped: skipped}
	}

	n := r.ring.buf[r.cursor%r.ring.capacity]
	r.cursor++
	return n, nil
}

// Drain calls fn for every currently-available TCN, reporting each lag gap
// via onLag (which may be nil). It stops at ErrEmpty; ErrClosed propagates to
// the caller since spec.md §4.6 marks a closed channel fatal.
func (r *Receiver) Drain(fn func(tcn.TCN), onLag func(skipped uint64)) error {
	for {
		n, err := r.TryRecv()
		switch {
		case err == nil:
			fn(n)
		case errors.Is(err, ErrEmpty):
			return nil
		default:
			var lagged *LaggedError
			if errors.As(err, &lagged) {
				if onLag != nil {
					onLag(lagged.Skipped)
				}
				continue
			}
			return err // ErrClosed
		}
	}
}
