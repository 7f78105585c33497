package wire

import "encoding/binary"

// Code is the 32-bit command code sent plotter -> device on the command
// port.
type Code uint32

const (
	CmdPing             Code = 0
	CmdGetID            Code = 1
	CmdRegisterReceiver Code = 2
	CmdRemoveReceiver   Code = 3
	CmdGetReceivers     Code = 4
	CmdStartSampling    Code = 5
	CmdStartOnTrigger   Code = 6
	CmdStopSampling     Code = 7
	CmdTriggerAck       Code = 8
	CmdForceTrigger     Code = 9
)

// EncodeCommand emits the 4-byte little-endian command code followed by
// payload verbatim. Commands carry no CRC.
func EncodeCommand(code Code, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], uint32(code))
	copy(out[4:], payload)
	return out
}

// DecodeCommand splits a received command datagram into its code and
// payload. Used device-side and by tests exercising the wire round trip.
func DecodeCommand(buf []byte) (Code, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, ErrTooShort
	}
	return Code(binary.LittleEndian.Uint32(buf[0:4])), buf[4:], nil
}

// EncodeReceiverPayload encodes the (IPv4, port) payload shared by
// REGISTER_RECEIVER and REMOVE_RECEIVER. A zero port/IPv4 means "use the
// sender's address".
func EncodeReceiverPayload(ip [4]byte, port uint16) []byte {
	out := make([]byte, 6)
	copy(out[0:4], ip[:])
	binary.LittleEndian.PutUint16(out[4:6], port)
	return out
}

// DecodeReceiverPayload is the inverse of EncodeReceiverPayload.
func DecodeReceiverPayload(buf []byte) (ip [4]byte, port uint16, err error) {
	if len(buf) < 6 {
		return ip, 0, ErrTooShort
	}
	copy(ip[:], buf[0:4])
	port = binary.LittleEndian.Uint16(buf[4:6])
	return ip, port, nil
}

// EncodeNumPackets encodes the 32-bit num_packets payload shared by
// START_SAMPLING and START_ON_TRIGGER. Zero means continuous.
func EncodeNumPackets(numPackets uint32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, numPackets)
	return out
}
