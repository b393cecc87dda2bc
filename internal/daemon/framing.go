package daemon

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameHeaderSize is the width of the big-endian length prefix every frame
// carries ahead of its JSON body, per the transport contract: 4-byte
// length + UTF-8 JSON.
const frameHeaderSize = 4

// WriteFrame writes a length-prefixed frame. maxBytes, when positive, is
// enforced before anything is written so an oversized response never
// partially reaches the peer.
func WriteFrame(w io.Writer, payload []byte, maxBytes int) error {
	if maxBytes > 0 && len(payload) > maxBytes {
		return fmt.Errorf("daemon: outgoing frame of %d bytes exceeds max_response_bytes %d", len(payload), maxBytes)
	}
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("daemon: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("daemon: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. The length is checked against
// maxBytes, when positive, before the body is allocated, so an oversized
// request is rejected without ever buffering it.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header)
	if maxBytes > 0 && size > uint32(maxBytes) {
		return nil, fmt.Errorf("daemon: incoming frame of %d bytes exceeds max_request_bytes %d", size, maxBytes)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("daemon: read frame body: %w", err)
	}
	return body, nil
}
