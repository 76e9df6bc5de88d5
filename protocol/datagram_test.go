package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatagramHeader(t *testing.T) {
	want := DatagramHeader{
		ChannelID:      3,
		SenderID:       42,
		Sequence:       1000,
		Timestamp:      123456,
		SignalStrength: 200,
		FrameDuration:  20,
		AudioLength:    160,
		HMACPrefix:     0xBEEF,
	}

	data := AppendDatagramHeader(nil, want)
	require.Len(t, data, DatagramHeaderSize)

	got, err := ParseDatagramHeader(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseDatagramHeader_IgnoresPayload(t *testing.T) {
	want := DatagramHeader{SenderID: 7, AudioLength: 4}
	data := AppendDatagramHeader(nil, want)
	data = append(data, 0xDE, 0xAD, 0xBE, 0xEF)

	got, err := ParseDatagramHeader(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseDatagramHeader_TooShort(t *testing.T) {
	_, err := ParseDatagramHeader(make([]byte, DatagramHeaderSize-1))
	assert.ErrorIs(t, err, ErrDatagramTooShort)

	_, err = ParseDatagramHeader(nil)
	assert.ErrorIs(t, err, ErrDatagramTooShort)
}

func TestAppendDatagramHeader_BigEndianLayout(t *testing.T) {
	data := AppendDatagramHeader(nil, DatagramHeader{
		ChannelID: 0x0102,
		SenderID:  0x0304,
		Sequence:  0x0506,
		Timestamp: 0x0708090A,
	})

	assert.Equal(t, []byte{0x01, 0x02}, data[0:2])
	assert.Equal(t, []byte{0x03, 0x04}, data[2:4])
	assert.Equal(t, []byte{0x05, 0x06}, data[4:6])
	assert.Equal(t, []byte{0x07, 0x08, 0x09, 0x0A}, data[6:10])
}
