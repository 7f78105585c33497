package ingest

import (
	"net"
	"testing"
	"time"

	"github.com/CaTiSCZ/plotter/pkg/device"
	"github.com/CaTiSCZ/plotter/pkg/wire"
	"github.com/stretchr/testify/assert"
)

func sendFrom(t *testing.T, to *net.UDPAddr, body []byte) {
	conn, err := net.DialUDP("udp4", nil, to)
	assert.Nil(t, err)
	defer conn.Close()
	_, err = conn.Write(body)
	assert.Nil(t, err)
}

func TestDispatchDataToRegisteredDevice(t *testing.T) {
	w, err := NewWorker(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, nil)
	assert.Nil(t, err)
	go w.Run()
	defer w.Stop()

	dev := device.NewDevice(net.ParseIP("127.0.0.1"))
	dev.SetChannelsCount(1)
	w.Register(net.ParseIP("127.0.0.1"), dev)

	samples := make([][]int16, 1)
	samples[0] = make([]int16, wire.SamplesPerPacket)
	errCount := []uint8{0}
	body := wire.EncodeData(0, samples, errCount)
	framed := wire.AppendCrc(body)

	sendFrom(t, w.conn.LocalAddr().(*net.UDPAddr), framed)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, dev.PendingCount())
}

func TestDispatchedBodiesSurviveLaterReads(t *testing.T) {
	w, err := NewWorker(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, nil)
	assert.Nil(t, err)
	go w.Run()
	defer w.Stop()

	dev := device.NewDevice(net.ParseIP("127.0.0.1"))
	dev.SetChannelsCount(1)
	w.Register(net.ParseIP("127.0.0.1"), dev)

	to := w.conn.LocalAddr().(*net.UDPAddr)
	const n = 5
	for seq := uint16(0); seq < n; seq++ {
		samples := [][]int16{make([]int16, wire.SamplesPerPacket)}
		for k := range samples[0] {
			samples[0][k] = int16(seq) // distinguishes each packet's payload
		}
		framed := wire.AppendCrc(wire.EncodeData(seq, samples, []uint8{0}))
		sendFrom(t, to, framed)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, dev.PendingCount())

	dev.FlushAll()
	snap := dev.Snapshot()
	assert.Equal(t, n*wire.SamplesPerPacket, len(snap.AbsIndex))
	for seq := 0; seq < n; seq++ {
		start := seq * wire.SamplesPerPacket
		for k := 0; k < wire.SamplesPerPacket; k++ {
			assert.EqualValues(t, seq, snap.Samples[0][start+k], "packet %d sample %d corrupted by buffer reuse", seq, k)
		}
	}
	assert.EqualValues(t, 0, dev.LostPackets())
}

func TestStrayPacketCounted(t *testing.T) {
	w, err := NewWorker(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, nil)
	assert.Nil(t, err)
	go w.Run()
	defer w.Stop()

	body := wire.AppendCrc([]byte{0x02, 0x00, 0x00, 0x00})
	sendFrom(t, w.conn.LocalAddr().(*net.UDPAddr), body)
	time.Sleep(50 * time.Millisecond)

	assert.EqualValues(t, 1, w.StrayCount())
}

func TestTriggerDispatchedToHandler(t *testing.T) {
	var gotPacketID uint16
	done := make(chan struct{})
	handler := func(dev *device.Device, addr net.IP, trig *wire.TriggerBody) {
		gotPacketID = trig.PacketID
		close(done)
	}
	w, err := NewWorker(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, handler)
	assert.Nil(t, err)
	go w.Run()
	defer w.Stop()

	dev := device.NewDevice(net.ParseIP("127.0.0.1"))
	w.Register(net.ParseIP("127.0.0.1"), dev)

	body := wire.AppendCrc(wire.EncodeTrigger(42, 0))
	sendFrom(t, w.conn.LocalAddr().(*net.UDPAddr), body)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trigger handler never called")
	}
	assert.EqualValues(t, 42, gotPacketID)
}
