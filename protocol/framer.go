package protocol

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed frame header size: a 4-byte big-endian unsigned
// integer holding the payload length in bytes.
const HeaderSize = 4

// MaxFrameSize is the largest payload length the framer accepts. A header
// declaring more than this is treated as stream desynchronization rather
// than a frame to wait for.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned by AddData when a frame header declares a
// payload larger than MaxFrameSize. The stream cannot be trusted past this
// point; callers should close the connection.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// Framer turns outgoing messages into length-prefixed frames and reassembles
// discrete messages from an arbitrarily fragmented or batched byte stream.
//
// A Framer belongs to exactly one connection and is not safe for concurrent
// use; the owning goroutine feeds it via AddData and reads the returned
// messages. Partial frames stay buffered across calls until completed.
type Framer struct {
	buf     []byte
	skipped int
}

// NewFramer returns an empty Framer ready to accept stream data.
func NewFramer() *Framer {
	return &Framer{}
}

// Encode serializes a message and prepends its payload length as a 4-byte
// big-endian header. The result is one complete frame ready to write to the
// stream. Encode does not touch the receive buffer and may be called on a
// zero Framer.
//
// Parameters:
//   - m: The message to frame
//
// Returns:
//   - The frame bytes (header followed by payload), or an error if the
//     message cannot be serialized
func (f *Framer) Encode(m Message) ([]byte, error) {
	payload, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// AddData appends a chunk of stream data to the internal buffer and decodes
// every complete frame it now holds, in order. A trailing partial frame is
// kept for the next call; it is never emitted and never dropped. A complete
// frame whose payload fails to decode is consumed and skipped so one corrupt
// frame does not halt the connection; the skip counter records it.
//
// Parameters:
//   - chunk: The bytes just read from the stream; may be empty
//
// Returns:
//   - The messages decoded from frames completed by this chunk, in stream order
//   - ErrFrameTooLarge if a header declares a payload over MaxFrameSize; the
//     messages decoded before the bad header are still returned
func (f *Framer) AddData(chunk []byte) ([]Message, error) {
	f.buf = append(f.buf, chunk...)

	var msgs []Message
	consumed := 0
	for {
		rest := f.buf[consumed:]
		if len(rest) < HeaderSize {
			break
		}

		length := binary.BigEndian.Uint32(rest[:HeaderSize])
		if length > MaxFrameSize {
			f.compact(consumed)
			return msgs, ErrFrameTooLarge
		}
		if len(rest) < HeaderSize+int(length) {
			break
		}

		payload := rest[HeaderSize : HeaderSize+int(length)]
		consumed += HeaderSize + int(length)

		m, err := DecodeMessage(payload)
		if err != nil {
			f.skipped++
			continue
		}
		msgs = append(msgs, m)
	}

	f.compact(consumed)
	return msgs, nil
}

// compact drops the first n consumed bytes from the buffer.
func (f *Framer) compact(n int) {
	if n == 0 {
		return
	}
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
}

// Reset discards all buffered bytes, abandoning any half-received frame.
// Used when the connection's logical session restarts. The skip counter is
// not reset.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// Buffered returns the number of bytes held for an incomplete frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Skipped returns how many complete frames were consumed but discarded
// because their payload failed to decode.
func (f *Framer) Skipped() int {
	return f.skipped
}
