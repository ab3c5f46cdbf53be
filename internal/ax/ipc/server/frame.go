// Package server implements the IPC server: length-prefixed JSON frames
// over a Unix socket, the request lifecycle (decode → envelope validate →
// schema validate → taint gate → handler → audit), and the handler
// registry those stages dispatch into. The socket-accept shape
// (stale-socket removal, 0600 permissions, one goroutine per connection)
// is grounded on the octoreflex operator socket server
// (internal/operator/server.go); the framing itself is a length-prefixed
// variant of that file's newline-delimited JSON.
package server

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame's payload, matching the proxy's
// request body ceiling order of magnitude to keep one connection from
// exhausting memory.
const maxFrameBytes = 4 << 20

// readFrame reads one length-prefixed frame from r: a 4-byte big-endian
// payload length followed by that many bytes of UTF-8 JSON.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("server: frame of %d bytes exceeds %d byte limit", n, maxFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("server: read frame payload: %w", err)
	}
	return payload, nil
}

// writeFrame writes payload to w as one length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("server: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("server: write frame payload: %w", err)
	}
	return nil
}
