package telemetry

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/CaTiSCZ/plotter/pkg/wire"
	"github.com/stretchr/testify/assert"
)

// fakeDevice is a minimal command-port responder standing in for a real
// sampling device in orchestration tests.
type fakeDevice struct {
	conn *net.UDPConn
	mu   sync.Mutex
	seen []wire.Code
}

func newFakeDevice(t *testing.T, ip string) *fakeDevice {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(ip)})
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
		f.mu.Lock()
		f.seen = append(f.seen, code)
		f.mu.Unlock()

		switch code {
		case wire.CmdStartSampling, wire.CmdStartOnTrigger:
			tail := make([]byte, 8)
			copy(tail, payload)
			ack := wire.EncodeAck(0, uint32(code), tail)
			f.conn.WriteToUDP(ack, from)
		}
	}
}

func (f *fakeDevice) addr() *net.UDPAddr { return f.conn.LocalAddr().(*net.UDPAddr) }
func (f *fakeDevice) close()             { f.conn.Close() }

func (f *fakeDevice) commandsSeen() []wire.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Code, len(f.seen))
	copy(out, f.seen)
	return out
}

func TestLeaderFollowerOrdering(t *testing.T) {
	n, err := NewNetwork(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	assert.Nil(t, err)
	defer n.Disconnect()

	leader := newFakeDevice(t, "127.0.0.2")
	defer leader.close()
	follower := newFakeDevice(t, "127.0.0.3")
	defer follower.close()

	leaderDev, err := n.Connect(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, leader.addr())
	assert.Nil(t, err)
	leaderDev.SetChannelsCount(1)
	followerDev, err := n.Connect(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, follower.addr())
	assert.Nil(t, err)
	followerDev.SetChannelsCount(1)

	err = n.StartLeaderFollower(leader.addr().IP, []net.IP{follower.addr().IP}, 0)
	assert.Nil(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []wire.Code{wire.CmdStartOnTrigger}, follower.commandsSeen())
	assert.Equal(t, []wire.Code{wire.CmdStartSampling}, leader.commandsSeen())
}
