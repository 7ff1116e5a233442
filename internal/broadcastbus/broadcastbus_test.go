package broadcastbus

import (
	"errors"
	"testing"

	"github.com/tcn-coalition/rendezvous/internal/shard"
	"github.com/tcn-coalition/rendezvous/internal/tcn"
)

func tcnOf(b byte) (out tcn.TCN) {
	out[0] = b
	return out
}

func TestPublishSubscribeOrder(t *testing.T) {
	bus := NewWithCapacity(4)
	sh := shard.ID(1)
	rx := bus.Subscribe(sh)

	bus.Publish(sh, tcnOf(1))
	bus.Publish(sh, tcnOf(2))

	n, err := rx.TryRecv()
	if err != nil || n != tcnOf(1) {
		t.Fatalf("first TryRecv = %v, %v", n, err)
	}
	n, err = rx.TryRecv()
	if err != nil || n != tcnOf(2) {
		t.Fatalf("second TryRecv = %v, %v", n, err)
	}
	if _, err := rx.TryRecv(); err != ErrEmpty {
		t.Fatalf("third TryRecv = %v, want ErrEmpty", err)
	}
}

func TestSubscribeOnlySeesFutureMessages(t *testing.T) {
	bus := NewWithCapacity(4)
	sh := shard.ID(1)
	bus.Publish(sh, tcnOf(1))
	rx := bus.Subscribe(sh)
	bus.Publish(sh, tcnOf(2))

	n, err := rx.TryRecv()
	if err != nil || n != tcnOf(2) {
		t.Fatalf("TryRecv = %v, %v, want tcnOf(2)", n, err)
	}
}

func TestLaggedReceiverReportsSkipCount(t *testing.T) {
	bus := NewWithCapacity(2)
	sh := shard.ID(1)
	rx := bus.Subscribe(sh)

	for i := byte(1); i <= 5; i++ {
		bus.Publish(sh, tcnOf(i))
	}

	_, err := rx.TryRecv()
	var lagged *LaggedError
	if !errors.As(err, &lagged) {
		t.Fatalf("TryRecv = %v, want *LaggedError", err)
	}
	if lagged.Skipped != 3 {
		t.Fatalf("Skipped = %d, want 3", lagged.Skipped)
	}

	// After the lag is reported, the receiver should resume from the oldest
	// still-retained entry (tcnOf(4), tcnOf(5) for a capacity-2 ring).
	n, err := rx.TryRecv()
	if err != nil || n != tcnOf(4) {
		t.Fatalf("TryRecv after lag = %v, %v, want tcnOf(4)", n, err)
	}
}

func TestClosedChannelAfterDrainIsErrClosed(t *testing.T) {
	bus := NewWithCapacity(4)
	sh := shard.ID(1)
	rx := bus.Subscribe(sh)
	bus.Publish(sh, tcnOf(1))
	bus.Close(sh)

	if _, err := rx.TryRecv(); err != nil {
		t.Fatalf("TryRecv before drain exhausted = %v, want the buffered message", err)
	}
	if _, err := rx.TryRecv(); err != ErrClosed {
		t.Fatalf("TryRecv after drain = %v, want ErrClosed", err)
	}
}

func TestShardsAreIsolated(t *testing.T) {
	bus := NewWithCapacity(4)
	bus.Publish(shard.ID(1), tcnOf(1))
	rx := bus.Subscribe(shard.ID(2))
	if _, err := rx.TryRecv(); err != ErrEmpty {
		t.Fatalf("cross-shard leak: TryRecv = %v, want ErrEmpty", err)
	}
}

func TestDrainCallsFnForEveryAvailableMessage(t *testing.T) {
	bus := NewWithCapacity(8)
	sh := shard.ID(1)
	rx := bus.Subscribe(sh)
	for i := byte(1); i <= 3; i++ {
		bus.Publish(sh, tcnOf(i))
	}

	var got []byte
	if err := rx.Drain(func(n tcn.TCN) { got = append(got, n[0]) }, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", got)
	}
}
