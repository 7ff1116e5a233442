// Package tcn implements the client-side key ratchet described in spec.md
// §4.1: a RAK is rotated periodically, each rotation seeds a forward-only
// hash chain of TCKs, and each TCK projects to one broadcastable TCN. A
// client later emits a SignedReport covering a contiguous run of indices so
// that anyone holding the report — not just the original device — can
// regenerate the TCNs broadcast during that window.
//
// The ratchet chain is keyed off the RAK's *public* key material rather than
// its secret seed. That is what makes expand (run by any verifier, who never
// sees the seed) able to reproduce the same TCNs the original device
// broadcast: the seed's only job is to deterministically derive the ed25519
// signing keypair bound into the report, per the teacher's wallet.go
// ("Ed25519 key-pairs only ... deterministic"). Forward secrecy comes from
// the one-way hash chain itself (ericlagergren-dr's KDF-chain construction),
// not from the signing key being secret.
package tcn

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"io"

	mrand "github.com/ericlagergren/saferand"
	"golang.org/x/crypto/hkdf"

	"github.com/tcn-coalition/rendezvous/internal/apperr"
)

const (
	// SeedSize is the length of a RAK's secret seed, which doubles as an
	// ed25519 seed.
	SeedSize = ed25519.SeedSize // 32

	// TCNSize is the length of a Temporary Contact Number.
	TCNSize = 16

	// MaxIndex is the highest TCK index a RAK may ratchet to (u16::MAX).
	MaxIndex = 0xFFFF

	// MaxMemoLen is the largest memo payload create_report accepts.
	MaxMemoLen = 255

	hkdfInfoChain = "tcn-coalition/rendezvous/chain/v1"
	hkdfInfoTCN   = "tcn-coalition/rendezvous/tcn/v1"
)

// MemoType classifies the payload a report carries, mirroring the closed
// enum in the original CoEpi protocol (tcn::MemoType).
type MemoType byte

const (
	MemoTypeCoEpiV1     MemoType = 0
	MemoTypeCoviDentity MemoType = 1
	MemoTypeCustom      MemoType = 2
)

// RAK is a Report Authorization Key: a 32-byte secret seed plus the ed25519
// keypair deterministically derived from it.
type RAK struct {
	seed [SeedSize]byte
	priv ed25519.PrivateKey
}

// NewRAK draws a fresh seed from a CSPRNG and derives the keypair. It fails
// only if the entropy source fails, which spec.md §4.1 marks fatal.
func NewRAK() (*RAK, error) {
	var seed [SeedSize]byte
	if _, err := mrand.Read(seed[:]); err != nil {
		return nil, apperr.Wrap(apperr.New(apperr.KindRngFailure, err.Error()), "generate RAK seed")
	}
	return rakFromSeed(seed), nil
}

func rakFromSeed(seed [SeedSize]byte) *RAK {
	return &RAK{seed: seed, priv: ed25519.NewKeyFromSeed(seed[:])}
}

// Seed returns a copy of the secret seed. Callers should not persist it
// beyond the reporting window (spec.md §3: "RAK ... retained by the client
// until reporting window expires").
func (r *RAK) Seed() [SeedSize]byte { return r.seed }

// Public returns the RAK's public signing key, the "RAK public material"
// embedded in every SignedReport.
func (r *RAK) Public() ed25519.PublicKey {
	return r.priv.Public().(ed25519.PublicKey)
}

// TCK is the per-index internal ratchet state. Index is monotonically
// non-decreasing per RAK; index 1 is the initial TCK (spec.md §3).
type TCK struct {
	rakPublic [ed25519.PublicKeySize]byte
	index     uint16
	state     [sha256.Size]byte
}

func chainStep(seed []byte, info string) [sha256.Size]byte {
	r := hkdf.New(sha256.New, seed, nil, []byte(info))
	var out [sha256.Size]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		// hkdf.Expand only fails when the requested length exceeds the
		// extractor's output limit (255*HashSize); sha256.Size is far
		// below that, so this is unreachable in practice.
		panic("tcn: hkdf expand failed: " + err.Error())
	}
	return out
}

// InitialTCK returns the TCK at index 1 for rak, the root of the hash chain.
func InitialTCK(rak *RAK) TCK {
	pub := rak.Public()
	var pubArr [ed25519.PublicKeySize]byte
	copy(pubArr[:], pub)
	return TCK{
		rakPublic: pubArr,
		index:     1,
		state:     chainStep(pub, hkdfInfoChain),
	}
}

// Ratchet returns the next TCK, advancing the chain by one step. It fails
// with apperr.KindInternalBug when the next index would exceed MaxIndex —
// the one recoverable error in the ratchet, per spec.md §4.1.
func (t TCK) Ratchet() (TCK, error) {
	if t.index >= MaxIndex {
		return TCK{}, apperr.New(apperr.KindInternalBug, "ratchet: index would exceed u16 bound")
	}
	return TCK{
		rakPublic: t.rakPublic,
		index:     t.index + 1,
		state:     chainStep(t.state[:], hkdfInfoChain),
	}, nil
}

// Index returns the TCK's position in its RAK's chain.
func (t TCK) Index() uint16 { return t.index }

// TCN is a 16-byte Temporary Contact Number.
type TCN [TCNSize]byte

// Number projects the current TCK to its broadcastable TCN. This is a pure
// function of (RAK, index) and does not advance the chain.
func (t TCK) Number() TCN {
	full := chainStep(t.state[:], hkdfInfoTCN)
	var tcn TCN
	copy(tcn[:], full[:TCNSize])
	return tcn
}

// tckAtIndex rebuilds the chain up to index from just a RAK's public key —
// the operation a verifier runs, since it never holds the RAK's seed.
func tckAtIndex(rakPublic ed25519.PublicKey, index uint16) (TCK, error) {
	var pubArr [ed25519.PublicKeySize]byte
	copy(pubArr[:], rakPublic)
	tck := TCK{rakPublic: pubArr, index: 1, state: chainStep(rakPublic, hkdfInfoChain)}
	for tck.index < index {
		next, err := tck.Ratchet()
		if err != nil {
			return TCK{}, err
		}
		tck = next
	}
	return tck, nil
}

// Report is the verified, decoded form of a SignedReport: the bound fields
// once the signature has checked out.
type Report struct {
	RAKPublic ed25519.PublicKey
	MemoType  MemoType
	Memo      []byte
	J1, J2    uint16
}

// SignedReport is the opaque commitment spec.md §3 describes: RAK public
// material, memo type, memo bytes, the covered index range, and a signature
// binding all of the above.
type SignedReport struct {
	RAKPublic ed25519.PublicKey
	MemoType  MemoType
	Memo      []byte
	J1, J2    uint16
	Signature []byte
}

func signingDigest(rakPublic ed25519.PublicKey, memoType MemoType, memo []byte, j1, j2 uint16) [sha256.Size]byte {
	var buf bytes.Buffer
	buf.Write(rakPublic)
	buf.WriteByte(byte(memoType))
	buf.WriteByte(byte(len(memo)))
	buf.Write(memo)
	_ = binary.Write(&buf, binary.BigEndian, j1)
	_ = binary.Write(&buf, binary.BigEndian, j2)
	return sha256.Sum256(buf.Bytes())
}

// CreateReport builds and signs a SignedReport covering [j1, j2), per
// spec.md §4.1. j1 and j2 must satisfy 1 <= j1 < j2 <= MaxIndex, and memo
// must be at most MaxMemoLen bytes.
func CreateReport(rak *RAK, memoType MemoType, memo []byte, j1, j2 uint16) (*SignedReport, error) {
	if len(memo) > MaxMemoLen {
		return nil, apperr.New(apperr.KindMemoTooLong, "memo exceeds 255 bytes")
	}
	if j1 < 1 || j1 >= j2 || j2 > MaxIndex {
		return nil, apperr.New(apperr.KindMalformed, "invalid index range: require 1 <= j1 < j2 <= 65535")
	}
	digest := signingDigest(rak.Public(), memoType, memo, j1, j2)
	sig := ed25519.Sign(rak.priv, digest[:])
	return &SignedReport{
		RAKPublic: rak.Public(),
		MemoType:  memoType,
		Memo:      append([]byte(nil), memo...),
		J1:        j1,
		J2:        j2,
		Signature: sig,
	}, nil
}

// Verify recomputes the binding digest and checks the signature, returning
// the decoded Report on success or apperr.KindInvalidSignature on mismatch.
func Verify(sr *SignedReport) (*Report, error) {
	digest := signingDigest(sr.RAKPublic, sr.MemoType, sr.Memo, sr.J1, sr.J2)
	if !ed25519.Verify(sr.RAKPublic, digest[:], sr.Signature) {
		return nil, apperr.New(apperr.KindInvalidSignature, "signature does not verify")
	}
	return &Report{
		RAKPublic: sr.RAKPublic,
		MemoType:  sr.MemoType,
		Memo:      sr.Memo,
		J1:        sr.J1,
		J2:        sr.J2,
	}, nil
}

// Expand reproduces the TCN at every index in [J1, J2), the set of TCNs the
// reporting device broadcast during that window. The result always has
// exactly J2-J1 elements (spec.md §8 property 2).
func Expand(r *Report) (map[TCN]struct{}, error) {
	out := make(map[TCN]struct{}, int(r.J2-r.J1))
	tck, err := tckAtIndex(r.RAKPublic, r.J1)
	if err != nil {
		return nil, apperr.Wrap(err, "expand: derive chain to j1")
	}
	for i := r.J1; i < r.J2; i++ {
		out[tck.Number()] = struct{}{}
		if i+1 < r.J2 {
			tck, err = tck.Ratchet()
			if err != nil {
				return nil, apperr.Wrap(err, "expand: ratchet")
			}
		}
	}
	return out, nil
}
