package protocol

import (
	"encoding/binary"
	"errors"
)

// DatagramHeaderSize is the fixed size of a voice datagram header.
const DatagramHeaderSize = 16

// ErrDatagramTooShort is returned by ParseDatagramHeader when fewer than
// DatagramHeaderSize bytes are available.
var ErrDatagramTooShort = errors.New("protocol: datagram shorter than header")

// DatagramHeader is the fixed 16-byte header of a voice datagram. The control
// plane only needs SenderID to attribute the datagram to a session; the audio
// payload that follows the header is not interpreted here.
type DatagramHeader struct {
	ChannelID      uint16 // bytes 0-1: channel the audio targets
	SenderID       uint16 // bytes 2-3: numeric session ID of the sender
	Sequence       uint16 // bytes 4-5: packet ordering
	Timestamp      uint32 // bytes 6-9: relative timestamp in milliseconds
	SignalStrength uint8  // byte 10
	FrameDuration  uint8  // byte 11: frame duration in milliseconds
	AudioLength    uint16 // bytes 12-13: payload length in bytes
	HMACPrefix     uint16 // bytes 14-15: first 16 bits of the payload HMAC
}

// ParseDatagramHeader reads the fixed header from the start of a datagram.
// All multi-byte fields are big-endian.
//
// Parameters:
//   - data: The raw datagram; only the first DatagramHeaderSize bytes are read
//
// Returns:
//   - The parsed header, or ErrDatagramTooShort if data is too small
func ParseDatagramHeader(data []byte) (DatagramHeader, error) {
	if len(data) < DatagramHeaderSize {
		return DatagramHeader{}, ErrDatagramTooShort
	}

	return DatagramHeader{
		ChannelID:      binary.BigEndian.Uint16(data[0:2]),
		SenderID:       binary.BigEndian.Uint16(data[2:4]),
		Sequence:       binary.BigEndian.Uint16(data[4:6]),
		Timestamp:      binary.BigEndian.Uint32(data[6:10]),
		SignalStrength: data[10],
		FrameDuration:  data[11],
		AudioLength:    binary.BigEndian.Uint16(data[12:14]),
		HMACPrefix:     binary.BigEndian.Uint16(data[14:16]),
	}, nil
}

// AppendDatagramHeader serializes the header to the end of dst and returns
// the extended slice. Used by clients and tests to build outbound datagrams.
//
// Parameters:
//   - dst: Destination slice; may be nil
//   - h: The header to serialize
//
// Returns:
//   - dst with DatagramHeaderSize header bytes appended
func AppendDatagramHeader(dst []byte, h DatagramHeader) []byte {
	var b [DatagramHeaderSize]byte
	binary.BigEndian.PutUint16(b[0:2], h.ChannelID)
	binary.BigEndian.PutUint16(b[2:4], h.SenderID)
	binary.BigEndian.PutUint16(b[4:6], h.Sequence)
	binary.BigEndian.PutUint32(b[6:10], h.Timestamp)
	b[10] = h.SignalStrength
	b[11] = h.FrameDuration
	binary.BigEndian.PutUint16(b[12:14], h.AudioLength)
	binary.BigEndian.PutUint16(b[14:16], h.HMACPrefix)
	return append(dst, b[:]...)
}
