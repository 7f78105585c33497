// Package command implements the command/ACK request-reply endpoint: one
// UDP socket per device used to send a command and wait for its single
// ACK or IDENTIFICATION reply within a bounded timeout.
package command

import (
	"errors"
	"net"
	"time"

	"github.com/CaTiSCZ/plotter/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// Timing contract: 300ms per attempt, three attempts, total budget <= 1s.
const (
	AttemptTimeout = 300 * time.Millisecond
	MaxAttempts    = 3
)

var (
	// ErrNoReply is returned when no reply arrived within the full retry
	// budget.
	ErrNoReply = errors.New("command: no reply")
	// ErrCorruptReply is returned when a reply's CRC doesn't verify or the
	// reply cannot be decoded (malformed ACK, reply tail too short).
	ErrCorruptReply = errors.New("command: corrupt reply")
	// ErrCommandMismatch is returned when an ACK's echoed command code
	// differs from the one that was sent.
	ErrCommandMismatch = errors.New("command: reply echoes wrong command")
)

// Endpoint sends commands to one device and waits for its reply. It never
// mutates reorder or ring state; side effects are socket I/O only.
type Endpoint struct {
	conn     *net.UDPConn
	deviceTo *net.UDPAddr
	log      *log.Entry
}

// NewEndpoint opens a UDP socket bound to localAddr (may be ":0" to pick
// an ephemeral port) and targets it at the device's command port.
func NewEndpoint(localAddr, deviceAddr *net.UDPAddr) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp4", localAddr)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		conn:     conn,
		deviceTo: deviceAddr,
		log:      log.WithField("device", deviceAddr.String()),
	}, nil
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Send transmits a command with no expectation of a reply (fire-and-forget
// commands TRIGGER_ACK and FORCE_TRIGGER).
func (e *Endpoint) Send(code wire.Code, payload []byte) error {
	buf := wire.EncodeCommand(code, payload)
	_, err := e.conn.WriteToUDP(buf, e.deviceTo)
	if err != nil {
		e.log.WithError(err).WithField("cmd", code).Warn("failed to send command")
	}
	return err
}

// SendAwaitReply sends a command and waits for its single reply, retrying
// up to MaxAttempts times with AttemptTimeout per attempt. The reply is
// decoded as an ACK (unframed, no CRC) and returned as-is; any other reply
// counts as corrupt. IDENTIFICATION replies are handled by GetID instead.
func (e *Endpoint) SendAwaitReply(code wire.Code, payload []byte) (*wire.AckBody, error) {
	buf := wire.EncodeCommand(code, payload)
	readBuf := make([]byte, 2048)

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if _, err := e.conn.WriteToUDP(buf, e.deviceTo); err != nil {
			return nil, err
		}
		e.conn.SetReadDeadline(time.Now().Add(AttemptTimeout))
		n, _, err := e.conn.ReadFromUDP(readBuf)
		if err != nil {
			lastErr = ErrNoReply
			e.log.WithField("cmd", code).WithField("attempt", attempt).Debug("reply timeout")
			continue
		}
		ack, err := wire.DecodeAck(readBuf[:n])
		if err != nil {
			lastErr = ErrCorruptReply
			e.log.WithField("cmd", code).WithField("attempt", attempt).Warn("corrupt reply")
			continue
		}
		if ack.CmdEcho != uint32(code) {
			lastErr = ErrCommandMismatch
			e.log.WithField("cmd", code).WithField("echo", ack.CmdEcho).Warn("command mismatch in reply")
			continue
		}
		return ack, nil
	}
	return nil, lastErr
}

// GetID sends GET_ID and awaits the IDENTIFICATION + CRC reply, which
// unlike ACKs is CRC-framed.
func (e *Endpoint) GetID() (*wire.Identification, error) {
	buf := wire.EncodeCommand(wire.CmdGetID, nil)
	readBuf := make([]byte, 4096)

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if _, err := e.conn.WriteToUDP(buf, e.deviceTo); err != nil {
			return nil, err
		}
		e.conn.SetReadDeadline(time.Now().Add(AttemptTimeout))
		n, _, err := e.conn.ReadFromUDP(readBuf)
		if err != nil {
			lastErr = ErrNoReply
			e.log.WithField("attempt", attempt).Debug("GET_ID reply timeout")
			continue
		}
		body, err := wire.VerifyAndStrip(readBuf[:n])
		if err != nil {
			lastErr = ErrCorruptReply
			e.log.WithField("attempt", attempt).Warn("GET_ID corrupt reply")
			continue
		}
		id, err := wire.DecodeIdentification(body)
		if err != nil {
			lastErr = ErrCorruptReply
			continue
		}
		return id, nil
	}
	return nil, lastErr
}
