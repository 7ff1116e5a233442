// Package reportcodec implements the fixed-width wire framing for
// tcn.SignedReport described in spec.md §4.2. A batch is the plain
// concatenation of frames; ReadAll loops Read until Eof, keeping every
// report read before a Malformed frame. Frames carry no outer length, so a
// reader cannot resynchronize after a damaged frame.
package reportcodec

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"io"

	"github.com/tcn-coalition/rendezvous/internal/apperr"
	"github.com/tcn-coalition/rendezvous/internal/tcn"
)

// ErrEof is returned by Read when the source is exhausted exactly at a
// frame boundary — a clean end of batch, not an error condition.
var ErrEof = errors.New("reportcodec: eof")

// frame layout, all integers big-endian:
//
//	[32]byte   RAK public key
//	1 byte     memo type
//	1 byte     memo length (0-255)
//	N bytes    memo
//	2 bytes    j1
//	2 bytes    j2
//	64 bytes   ed25519 signature
const frameFixedLen = ed25519.PublicKeySize + 1 + 1 + 2 + 2 + ed25519.SignatureSize

// Write emits the fixed-width framing of sr to w. Per spec.md §4.2 this is
// infallible given an infallible sink; any error returned is from the
// underlying writer.
func Write(sr *tcn.SignedReport, w io.Writer) error {
	buf := make([]byte, 0, frameFixedLen+len(sr.Memo))
	buf = append(buf, sr.RAKPublic...)
	buf = append(buf, byte(sr.MemoType), byte(len(sr.Memo)))
	buf = append(buf, sr.Memo...)
	buf = binary.BigEndian.AppendUint16(buf, sr.J1)
	buf = binary.BigEndian.AppendUint16(buf, sr.J2)
	buf = append(buf, sr.Signature...)
	_, err := w.Write(buf)
	return err
}

// Read reads exactly one frame from r. It returns ErrEof if r is exhausted
// at a frame boundary (zero bytes read before the public key field), or an
// apperr.KindMalformed error if the source ends mid-frame or the memo
// length byte doesn't match the actual memo bytes available.
func Read(r io.Reader) (*tcn.SignedReport, error) {
	var pub [ed25519.PublicKeySize]byte
	n, err := io.ReadFull(r, pub[:])
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, ErrEof
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.New(apperr.KindMalformed, err.Error()), "read rak public key")
	}

	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, apperr.Wrap(apperr.New(apperr.KindMalformed, err.Error()), "read memo type/length")
	}
	memoType := tcn.MemoType(head[0])
	memoLen := int(head[1])

	memo := make([]byte, memoLen)
	if memoLen > 0 {
		if _, err := io.ReadFull(r, memo); err != nil {
			return nil, apperr.Wrap(apperr.New(apperr.KindMalformed, err.Error()), "read memo bytes")
		}
	}

	var idx [4]byte
	if _, err := io.ReadFull(r, idx[:]); err != nil {
		return nil, apperr.Wrap(apperr.New(apperr.KindMalformed, err.Error()), "read j1/j2")
	}
	j1 := binary.BigEndian.Uint16(idx[0:2])
	j2 := binary.BigEndian.Uint16(idx[2:4])

	sig := make([]byte, ed25519.SignatureSize)
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, apperr.Wrap(apperr.New(apperr.KindMalformed, err.Error()), "read signature")
	}

	return &tcn.SignedReport{
		RAKPublic: append([]byte(nil), pub[:]...),
		MemoType:  memoType,
		Memo:      memo,
		J1:        j1,
		J2:        j2,
		Signature: sig,
	}, nil
}

// ReadAll decodes every frame in r, discarding (and reporting via onBad)
// any frame that fails to parse and keeping every report decoded before it.
// Read fails only when r ends mid-frame, so a Malformed frame is always the
// last one in the stream. A frame whose memo length byte is damaged is not
// detected as Malformed: the frames after it are misaligned and decode into
// reports that fail signature verification. onBad may be nil.
func ReadAll(r io.Reader, onBad func(error)) []*tcn.SignedReport {
	var out []*tcn.SignedReport
	for {
		sr, err := Read(r)
		if errors.Is(err, ErrEof) {
			return out
		}
		if err != nil {
			if onBad != nil {
				onBad(err)
			}
			// Read has consumed the rest of the stream while failing on
			// the short frame, so the next Read call returns ErrEof and
			// the loop exits with the reports decoded so far.
			continue
		}
		out = append(out, sr)
	}
}

// WriteBatch concatenates the framing of every report in order — the batch
// encoding is nothing more than that concatenation (spec.md §4.2).
func WriteBatch(reports []*tcn.SignedReport) ([]byte, error) {
	var buf bytes.Buffer
	for _, sr := range reports {
		if err := Write(sr, &buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
