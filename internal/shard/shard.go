// Package shard defines the partition id used by both fan-out (the
// simulator) and server storage (batchstore). A Shard is an opaque 64-bit
// unsigned value; the set of valid shards is a server-operator decision, not
// a property of this type — unknown shards simply behave as empty.
package shard

import (
	"strconv"
)

// ID identifies a shard. It is immutable once created.
type ID uint64

// Parse parses a decimal string into an ID. Any valid 64-bit unsigned
// integer is accepted, per spec.md §4.3.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}

// String renders the canonical decimal form, the same form Parse accepts —
// this makes the shard id round-trip cleanly through a URL path segment.
func (i ID) String() string {
	return strconv.FormatUint(uint64(i), 10)
}
