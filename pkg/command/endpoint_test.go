package command

import (
	"net"
	"testing"
	"time"

	"github.com/CaTiSCZ/plotter/pkg/wire"
	"github.com/stretchr/testify/assert"
)

// fakeDevice is a minimal loopback UDP responder used to exercise the
// command endpoint's request/reply contract without a real device.
type fakeDevice struct {
	conn    *net.UDPConn
	handler func(code wire.Code, payload []byte, from *net.UDPAddr)
}

func newFakeDevice(t *testing.T) *fakeDevice {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	assert.Nil(t, err)
	f := &fakeDevice{conn: conn}
	go f.loop()
	return f
}

func (f *fakeDevice) loop() {
	buf := make([]byte, 2048)
	for {
		n, from, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		code, payload, err := wire.DecodeCommand(buf[:n])
		if err != nil {
			continue
		}
		if f.handler != nil {
			f.handler(code, payload, from)
		}
	}
}

func (f *fakeDevice) addr() *net.UDPAddr { return f.conn.LocalAddr().(*net.UDPAddr) }
func (f *fakeDevice) close()             { f.conn.Close() }

func newEndpointTo(t *testing.T, fake *fakeDevice) *Endpoint {
	ep, err := NewEndpoint(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, fake.addr())
	assert.Nil(t, err)
	return ep
}

func TestPingRoundTrip(t *testing.T) {
	fake := newFakeDevice(t)
	defer fake.close()
	fake.handler = func(code wire.Code, payload []byte, from *net.UDPAddr) {
		ack := wire.EncodeAck(0, uint32(code), nil)
		fake.conn.WriteToUDP(ack, from)
	}
	ep := newEndpointTo(t, fake)
	defer ep.Close()

	assert.Nil(t, ep.Ping())
}

func TestNoReplyTimesOut(t *testing.T) {
	fake := newFakeDevice(t)
	defer fake.close()
	// No handler set: device never replies.
	ep := newEndpointTo(t, fake)
	defer ep.Close()

	start := time.Now()
	err := ep.Ping()
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrNoReply)
	assert.GreaterOrEqual(t, elapsed, AttemptTimeout*time.Duration(MaxAttempts-1))
}

func TestCommandMismatchReported(t *testing.T) {
	fake := newFakeDevice(t)
	defer fake.close()
	fake.handler = func(code wire.Code, payload []byte, from *net.UDPAddr) {
		// Always echo the wrong command code.
		ack := wire.EncodeAck(0, uint32(wire.CmdGetReceivers), nil)
		fake.conn.WriteToUDP(ack, from)
	}
	ep := newEndpointTo(t, fake)
	defer ep.Close()

	err := ep.Ping()
	assert.ErrorIs(t, err, ErrCommandMismatch)
}

// S6: REGISTER_RECEIVER is idempotent; registering the same address twice
// returns the same index.
func TestRegisterReceiverIdempotent(t *testing.T) {
	fake := newFakeDevice(t)
	defer fake.close()
	fake.handler = func(code wire.Code, payload []byte, from *net.UDPAddr) {
		ip, port, _ := wire.DecodeReceiverPayload(payload)
		tail := append(append([]byte{}, ip[:]...), byte(port), byte(port>>8), 0)
		ack := wire.EncodeAck(0, uint32(code), tail)
		fake.conn.WriteToUDP(ack, from)
	}
	ep := newEndpointTo(t, fake)
	defer ep.Close()

	reg1, err := ep.RegisterReceiver([4]byte{192, 168, 2, 5}, 10577)
	assert.Nil(t, err)
	reg2, err := ep.RegisterReceiver([4]byte{192, 168, 2, 5}, 10577)
	assert.Nil(t, err)
	assert.Equal(t, reg1.Index, reg2.Index)
	assert.EqualValues(t, 0, reg2.Index)
}

// S4: STOP_SAMPLING's ACK decodes as cmd=7, packets_sent as echoed.
func TestStopSamplingDecodesPacketsSent(t *testing.T) {
	fake := newFakeDevice(t)
	defer fake.close()
	fake.handler = func(code wire.Code, payload []byte, from *net.UDPAddr) {
		tail := make([]byte, 8)
		tail[0] = 5
		ack := wire.EncodeAck(0, uint32(code), tail)
		fake.conn.WriteToUDP(ack, from)
	}
	ep := newEndpointTo(t, fake)
	defer ep.Close()

	sent, err := ep.StopSampling()
	assert.Nil(t, err)
	assert.EqualValues(t, 5, sent)
}
