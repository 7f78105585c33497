package wire

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Identification is the parsed IDENTIFICATION record. ChannelsCount is the
// only field the core protocol engine consumes beyond discovery; the rest
// is surfaced for the UI collaborator.
type Identification struct {
	HWID          uint16
	HWMajor       uint8
	HWMinor       uint8
	MCUSerial     uint32
	CPUUID        [3]uint32
	ADCHWID       uint16
	ADCMajor      uint8
	ADCMinor      uint8
	ADCSerial     uint32
	FWID          uint16
	FWMajor       uint8
	FWMinor       uint8
	FWConfig      string
	BuildTime     string
	ChannelsCount uint16
	Channels      []ChannelInfo
}

// ChannelInfo is a per-channel calibration record following the fixed
// IDENTIFICATION header.
type ChannelInfo struct {
	Unit   string
	Offset float32
	Gain   float32
}

const channelInfoSize = 4 + 4 + 4 // unit[4] + offset(f32) + gain(f32)

// DecodeIdentification parses a verified IDENTIFICATION body.
func DecodeIdentification(body []byte) (*Identification, error) {
	if len(body) < IdentificationHeaderSize {
		return nil, ErrTooShort
	}
	t, err := PeekType(body)
	if err != nil {
		return nil, err
	}
	if t != TypeIdentification {
		return nil, ErrBadType
	}

	id := &Identification{}
	// u16 type | u16 state | u16 hw_id | u8 hw_major | u8 hw_minor |
	// u32 mcu_serial | u32 uid[3] | u16 adc_hw_id | u8 adc_major |
	// u8 adc_minor | u32 adc_serial | u16 fw_id | u8 fw_major | u8 fw_minor |
	// 8 bytes fw_config | 30 bytes build_time | u16 channels_count
	off := 4 // skip type + state
	id.HWID = binary.LittleEndian.Uint16(body[off:])
	off += 2
	id.HWMajor = body[off]
	off++
	id.HWMinor = body[off]
	off++
	id.MCUSerial = binary.LittleEndian.Uint32(body[off:])
	off += 4
	for i := range id.CPUUID {
		id.CPUUID[i] = binary.LittleEndian.Uint32(body[off:])
		off += 4
	}
	id.ADCHWID = binary.LittleEndian.Uint16(body[off:])
	off += 2
	id.ADCMajor = body[off]
	off++
	id.ADCMinor = body[off]
	off++
	id.ADCSerial = binary.LittleEndian.Uint32(body[off:])
	off += 4
	id.FWID = binary.LittleEndian.Uint16(body[off:])
	off += 2
	id.FWMajor = body[off]
	off++
	id.FWMinor = body[off]
	off++
	id.FWConfig = trimASCII(body[off : off+8])
	off += 8
	id.BuildTime = trimASCII(body[off : off+30])
	off += 30
	id.ChannelsCount = binary.LittleEndian.Uint16(body[off:])
	off += 2

	if off != IdentificationHeaderSize {
		return nil, ErrTooShort
	}

	want := off + int(id.ChannelsCount)*channelInfoSize
	if len(body) < want {
		return nil, ErrTooShort
	}
	id.Channels = make([]ChannelInfo, id.ChannelsCount)
	for i := range id.Channels {
		unit := trimASCII(body[off : off+4])
		off += 4
		offsetBits := binary.LittleEndian.Uint32(body[off:])
		off += 4
		gainBits := binary.LittleEndian.Uint32(body[off:])
		off += 4
		id.Channels[i] = ChannelInfo{
			Unit:   unit,
			Offset: math.Float32frombits(offsetBits),
			Gain:   math.Float32frombits(gainBits),
		}
	}
	return id, nil
}

func trimASCII(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
