package wire

import (
	"encoding/binary"

	"github.com/CaTiSCZ/plotter/internal/crc16"
)

// VerifyAndStrip checks the trailing 16-bit CRC-16/CCITT of buf against the
// checksum of the preceding bytes and, on match, returns the body with the
// CRC stripped off. buf must be at least 2 bytes long.
func VerifyAndStrip(buf []byte) ([]byte, error) {
	if len(buf) < 2 {
		return nil, ErrTooShort
	}
	body := buf[:len(buf)-2]
	want := binary.LittleEndian.Uint16(buf[len(buf)-2:])
	got := uint16(crc16.Checksum(body))
	if got != want {
		return nil, ErrCrc
	}
	return body, nil
}

// AppendCrc computes the CRC-16/CCITT of body and appends it little-endian.
func AppendCrc(body []byte) []byte {
	crc := uint16(crc16.Checksum(body))
	out := make([]byte, len(body)+2)
	copy(out, body)
	binary.LittleEndian.PutUint16(out[len(body):], crc)
	return out
}

// PeekType reads the packet-type discriminator without validating CRC or
// any other structure.
func PeekType(body []byte) (PacketType, error) {
	if len(body) < 2 {
		return 0, ErrTooShort
	}
	return PacketType(binary.LittleEndian.Uint16(body)), nil
}

// DecodeDataHeader returns the sequence number of a verified DATA body.
func DecodeDataHeader(body []byte) (seq uint16, err error) {
	if len(body) < 4 {
		return 0, ErrTooShort
	}
	t, err := PeekType(body)
	if err != nil {
		return 0, err
	}
	if t != TypeData {
		return 0, ErrBadType
	}
	return binary.LittleEndian.Uint16(body[2:4]), nil
}

// DataBodySize returns the expected length, in bytes before CRC, of a DATA
// body carrying channelsCount channels of SamplesPerPacket 16-bit samples
// each plus one error-count byte per channel and an optional pad byte to
// keep the body even-lengthed.
func DataBodySize(channelsCount int) int {
	size := 4 + channelsCount*SamplesPerPacket*2 + channelsCount
	if channelsCount%2 != 0 {
		size++
	}
	return size
}

// DataBody is a decoded DATA packet body: per-channel samples and
// per-channel parity-error counts.
type DataBody struct {
	Seq      uint16
	Samples  [][]int16 // [channel][SamplesPerPacket]
	ErrCount []uint8   // [channel]
}

// DecodeData decodes a verified DATA body for a device with the given
// channel count.
func DecodeData(body []byte, channelsCount int) (*DataBody, error) {
	if channelsCount <= 0 {
		return nil, ErrBadType
	}
	want := DataBodySize(channelsCount)
	if len(body) != want {
		return nil, ErrTooShort
	}
	seq, err := DecodeDataHeader(body)
	if err != nil {
		return nil, err
	}
	d := &DataBody{
		Seq:      seq,
		Samples:  make([][]int16, channelsCount),
		ErrCount: make([]uint8, channelsCount),
	}
	off := 4
	for ch := 0; ch < channelsCount; ch++ {
		samples := make([]int16, SamplesPerPacket)
		for k := 0; k < SamplesPerPacket; k++ {
			samples[k] = int16(binary.LittleEndian.Uint16(body[off : off+2]))
			off += 2
		}
		d.Samples[ch] = samples
	}
	for ch := 0; ch < channelsCount; ch++ {
		d.ErrCount[ch] = body[off]
		off++
	}
	return d, nil
}

// EncodeData is the inverse of DecodeData; it is used by tests and by any
// synthetic device simulator that exercises the ingest path.
func EncodeData(seq uint16, samples [][]int16, errCount []uint8) []byte {
	channelsCount := len(samples)
	body := make([]byte, DataBodySize(channelsCount))
	binary.LittleEndian.PutUint16(body[0:2], uint16(TypeData))
	binary.LittleEndian.PutUint16(body[2:4], seq)
	off := 4
	for ch := 0; ch < channelsCount; ch++ {
		for k := 0; k < SamplesPerPacket; k++ {
			binary.LittleEndian.PutUint16(body[off:off+2], uint16(samples[ch][k]))
			off += 2
		}
	}
	for ch := 0; ch < channelsCount; ch++ {
		body[off] = errCount[ch]
		off++
	}
	return body
}

// TriggerBody is a decoded TRIGGER packet body.
type TriggerBody struct {
	PacketID     uint16
	SampleOffset uint8
}

// DecodeTrigger decodes a verified TRIGGER body.
func DecodeTrigger(body []byte) (*TriggerBody, error) {
	if len(body) < 5 {
		return nil, ErrTooShort
	}
	t, err := PeekType(body)
	if err != nil {
		return nil, err
	}
	if t != TypeTrigger {
		return nil, ErrBadType
	}
	return &TriggerBody{
		PacketID:     binary.LittleEndian.Uint16(body[2:4]),
		SampleOffset: body[4],
	}, nil
}

// EncodeTrigger builds a TRIGGER body (without CRC).
func EncodeTrigger(packetID uint16, sampleOffset uint8) []byte {
	body := make([]byte, 5)
	binary.LittleEndian.PutUint16(body[0:2], uint16(TypeTrigger))
	binary.LittleEndian.PutUint16(body[2:4], packetID)
	body[4] = sampleOffset
	return body
}

// AckBody is a decoded ACK reply. Tail holds any reply-specific payload
// beyond the common header (e.g. echoed IPv4/port/index, packet counts).
type AckBody struct {
	Error   uint16
	CmdEcho uint32
	Tail    []byte
}

// DecodeAck decodes an ACK packet. ACKs carry no CRC.
func DecodeAck(buf []byte) (*AckBody, error) {
	if len(buf) < 8 {
		return nil, ErrTooShort
	}
	t := PacketType(binary.LittleEndian.Uint16(buf[0:2]))
	if t != TypeAck {
		return nil, ErrBadType
	}
	return &AckBody{
		Error:   binary.LittleEndian.Uint16(buf[2:4]),
		CmdEcho: binary.LittleEndian.Uint32(buf[4:8]),
		Tail:    buf[8:],
	}, nil
}

// EncodeAck builds an ACK packet (no CRC, per the wire contract).
func EncodeAck(errCode uint16, cmdEcho uint32, tail []byte) []byte {
	out := make([]byte, 8+len(tail))
	binary.LittleEndian.PutUint16(out[0:2], uint16(TypeAck))
	binary.LittleEndian.PutUint16(out[2:4], errCode)
	binary.LittleEndian.PutUint32(out[4:8], cmdEcho)
	copy(out[8:], tail)
	return out
}
