package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrCorruptFrame is returned by Reassembler.Feed when a length prefix
// is zero, negative, or above MaxFrameBytes. Nothing read from the
// stream after that point can be trusted; the connection must be closed.
var ErrCorruptFrame = errors.New("protocol: corrupt frame length")

// Reassembler turns a stream of arbitrary-sized reads into complete
// frame bodies. It buffers bytes that do not yet form a whole frame and
// knows nothing about message semantics, only length-prefix delimiting.
// One Reassembler serves one connection and is not safe for concurrent
// use.
type Reassembler struct {
	pending   []byte
	corrupted bool
}

// Feed appends p to the buffered bytes and consumes as many complete
// frames as are available, returning their bodies in order. A malformed
// length prefix returns the frames consumed before it together with
// ErrCorruptFrame; every later call fails the same way.
func (r *Reassembler) Feed(p []byte) ([][]byte, error) {
	if r.corrupted {
		return nil, ErrCorruptFrame
	}
	r.pending = append(r.pending, p...)

	var frames [][]byte
	off := 0
	for len(r.pending)-off >= frameHeaderLen {
		declared := int32(binary.BigEndian.Uint32(r.pending[off:]))
		if declared <= 0 || declared > MaxFrameBytes {
			r.corrupted = true
			return frames, ErrCorruptFrame
		}
		total := frameHeaderLen + int(declared)
		if len(r.pending)-off < total {
			break
		}
		body := make([]byte, declared)
		copy(body, r.pending[off+frameHeaderLen:off+total])
		frames = append(frames, body)
		off += total
	}

	// Keep unconsumed bytes at the front for the next read.
	if off > 0 {
		n := copy(r.pending, r.pending[off:])
		r.pending = r.pending[:n]
	}
	return frames, nil
}

// Buffered returns the number of bytes held back waiting for a complete
// frame.
func (r *Reassembler) Buffered() int {
	return len(r.pending)
}
