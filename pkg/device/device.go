// Package device implements the per-device aggregate: the reorder/gap
// engine, the channel ring buffers, the session state machine and the
// trigger sub-protocol. One Device is the single owned structure shared
// between the ingest worker and the UI/CLI observer, guarded by one lock
// as described for the per-device aggregate.
package device

import (
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Default tunables, per the reorder buffer and ring buffer defaults.
const (
	DefaultMinBufferSize = 90
	DefaultChunkSize     = 30
	DefaultRingDuration  = 10 * time.Second
	SampleRateHz         = 200 * 1000 // 200 samples/channel per ~1ms packet
)

// State is one of the four session states.
type State uint8

const (
	StateIdle State = iota
	StateArmedForTrigger
	StateSampling
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmedForTrigger:
		return "ARMED_FOR_TRIGGER"
	case StateSampling:
		return "SAMPLING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Device is the per-device aggregate: reorder map, ring buffers, counters
// and channel count, all behind one lock. The ingest worker and the
// UI/CLI hold a *Device as two non-owning observers of this one owned
// structure.
type Device struct {
	mu sync.Mutex

	Addr net.IP
	log  *log.Entry

	channelsCount int
	minBufferSize int
	chunkSize     int
	ringDuration  time.Duration

	reorder     map[uint16][]byte
	ring        *ringSet
	lostPackets uint64
	lateDrops   uint64
	crcErrors   uint64

	state       State
	packetsSent uint64

	// Trigger sub-protocol, plotter side.
	triggerEpoch   uint16
	triggerAcked   bool
	triggerLogID   string
	lastTriggerAt  time.Time
	numPacketsGoal uint32
	packetsRecv    uint64
}

// NewDevice creates a Device with default reorder/ring tunables and an
// empty reorder map. The ring buffers stay nil, and InsertData discards
// packets, until SetChannelsCount is called with a nonzero channel count
// discovered via GET_ID.
func NewDevice(addr net.IP) *Device {
	return &Device{
		Addr:          addr,
		log:           log.WithField("device", addr.String()),
		minBufferSize: DefaultMinBufferSize,
		chunkSize:     DefaultChunkSize,
		ringDuration:  DefaultRingDuration,
		reorder:       make(map[uint16][]byte),
		state:         StateIdle,
	}
}

// SetTunables overrides the reorder/ring defaults. Must be called before
// channel count discovery to take effect on the initial allocation.
func (d *Device) SetTunables(minBufferSize, chunkSize int, ringDuration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if minBufferSize > 0 {
		d.minBufferSize = minBufferSize
	}
	if chunkSize > 0 {
		d.chunkSize = chunkSize
	}
	if ringDuration > 0 {
		d.ringDuration = ringDuration
	}
}

// SetChannelsCount (re)allocates the ring buffers for the given channel
// count. The ring buffers are created on first GET_ID, once channel count
// is known, and reallocated under the lock if channel count changes; the
// reorder map is kept. Only valid at IDLE, per the dynamic channel count
// design note.
func (d *Device) SetChannelsCount(channelsCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if channelsCount == d.channelsCount {
		return
	}
	// Flush with the old count before swapping, so packets already
	// pending under the old layout aren't silently dropped.
	if d.channelsCount > 0 {
		d.flushAllLocked()
	}
	d.channelsCount = channelsCount
	capacity := int(d.ringDuration.Seconds() * (SamplesPerPacketRate()))
	d.ring = newRingSet(channelsCount, capacity)
	d.log.WithField("channels", channelsCount).Info("channel count set, ring buffers (re)allocated")
}

// SamplesPerPacketRate returns the nominal per-channel sample rate implied
// by 200 samples roughly every millisecond.
func SamplesPerPacketRate() float64 {
	return 200.0 * 1000.0
}

// ChannelsCount returns the currently configured channel count, or 0 if
// GET_ID hasn't been issued yet.
func (d *Device) ChannelsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channelsCount
}

// State returns the current session state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Counters is a point-in-time read of the error/loss counters, safe to
// read under the device lock.
type Counters struct {
	LostPackets uint64
	LateDrops   uint64
	CrcErrors   uint64
	PacketsSent uint64
	PacketsRecv uint64
}

// Counters returns a snapshot of the device's counters.
func (d *Device) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Counters{
		LostPackets: d.lostPackets,
		LateDrops:   d.lateDrops,
		CrcErrors:   d.crcErrors,
		PacketsSent: d.packetsSent,
		PacketsRecv: d.packetsRecv,
	}
}

// Clear discards the current ring buffer contents, for the UI/CLI's
// "clear" command. The reorder map and counters are untouched since
// clearing is a display-only reset, not a session reset.
func (d *Device) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelsCount == 0 {
		return
	}
	capacity := int(d.ringDuration.Seconds() * (SamplesPerPacketRate()))
	d.ring = newRingSet(d.channelsCount, capacity)
}

// RecordCrcError increments crc_error_count after a CRC failure on any
// received packet for this device.
func (d *Device) RecordCrcError() {
	d.mu.Lock()
	d.crcErrors++
	d.mu.Unlock()
}
