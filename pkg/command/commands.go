package command

import (
	"encoding/binary"
	"net"

	"github.com/CaTiSCZ/plotter/pkg/wire"
)

// Ping sends PING and waits for ACK(err=0, cmd=0).
func (e *Endpoint) Ping() error {
	_, err := e.SendAwaitReply(wire.CmdPing, nil)
	return err
}

// ReceiverRegistration is the decoded reply to REGISTER_RECEIVER: the
// echoed IPv4/port and the zero-based index the device assigned.
type ReceiverRegistration struct {
	IP    net.IP
	Port  uint16
	Index uint8
}

// RegisterReceiver asks the device to push DATA/TRIGGER packets to ip:port.
// A zero ip/port means "use the sender's address/port". Registration is
// idempotent: re-registering the same address returns the same index.
func (e *Endpoint) RegisterReceiver(ip [4]byte, port uint16) (*ReceiverRegistration, error) {
	payload := wire.EncodeReceiverPayload(ip, port)
	ack, err := e.SendAwaitReply(wire.CmdRegisterReceiver, payload)
	if err != nil {
		return nil, err
	}
	if len(ack.Tail) < 7 {
		return nil, ErrCorruptReply
	}
	return &ReceiverRegistration{
		IP:    net.IPv4(ack.Tail[0], ack.Tail[1], ack.Tail[2], ack.Tail[3]),
		Port:  binary.LittleEndian.Uint16(ack.Tail[4:6]),
		Index: ack.Tail[6],
	}, nil
}

// RemoveReceiver asks the device to stop pushing to ip:port.
func (e *Endpoint) RemoveReceiver(ip [4]byte, port uint16) error {
	payload := wire.EncodeReceiverPayload(ip, port)
	_, err := e.SendAwaitReply(wire.CmdRemoveReceiver, payload)
	return err
}

// Receiver is one entry of the device's registered-receiver set.
type Receiver struct {
	IP   net.IP
	Port uint16
}

// GetReceivers lists the device's currently registered receivers.
func (e *Endpoint) GetReceivers() ([]Receiver, error) {
	ack, err := e.SendAwaitReply(wire.CmdGetReceivers, nil)
	if err != nil {
		return nil, err
	}
	var out []Receiver
	tail := ack.Tail
	for len(tail) >= 6 {
		out = append(out, Receiver{
			IP:   net.IPv4(tail[0], tail[1], tail[2], tail[3]),
			Port: binary.LittleEndian.Uint16(tail[4:6]),
		})
		tail = tail[6:]
	}
	return out, nil
}

// StartSampling starts continuous (numPackets==0) or bounded sampling
// immediately. The device echoes numPackets back in the ACK.
func (e *Endpoint) StartSampling(numPackets uint32) (uint64, error) {
	ack, err := e.SendAwaitReply(wire.CmdStartSampling, wire.EncodeNumPackets(numPackets))
	if err != nil {
		return 0, err
	}
	return decodeUint64Tail(ack.Tail)
}

// StartOnTrigger arms the device to begin sampling on the next trigger.
func (e *Endpoint) StartOnTrigger(numPackets uint32) (uint64, error) {
	ack, err := e.SendAwaitReply(wire.CmdStartOnTrigger, wire.EncodeNumPackets(numPackets))
	if err != nil {
		return 0, err
	}
	return decodeUint64Tail(ack.Tail)
}

// StopSampling requests an immediate stop and returns the device's
// packets_sent counter for this run, per the STOP_SAMPLING ACK contract.
func (e *Endpoint) StopSampling() (uint64, error) {
	ack, err := e.SendAwaitReply(wire.CmdStopSampling, nil)
	if err != nil {
		return 0, err
	}
	return decodeUint64Tail(ack.Tail)
}

// TriggerAck sends the fire-and-forget TRIGGER_ACK used by the plotter's
// trigger sub-protocol mirror: exactly once per fresh trigger.
func (e *Endpoint) TriggerAck() error {
	return e.Send(wire.CmdTriggerAck, nil)
}

// ForceTrigger requests the device originate a trigger now.
func (e *Endpoint) ForceTrigger() error {
	return e.Send(wire.CmdForceTrigger, nil)
}

func decodeUint64Tail(tail []byte) (uint64, error) {
	if len(tail) < 8 {
		return 0, ErrCorruptReply
	}
	return binary.LittleEndian.Uint64(tail[:8]), nil
}
