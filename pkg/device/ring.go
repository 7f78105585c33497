package device

import "github.com/CaTiSCZ/plotter/pkg/wire"

// ringSet is the per-device pair of fixed-capacity ring buffers: one
// 16-bit sample ring and one 8-bit error-flag ring per channel, plus one
// shared absolute-index ring. Capacity is fixed at construction time and
// never grows; once full, the oldest entry is overwritten, which is the
// deliberate memory cap described for ring buffer sizing.
type ringSet struct {
	channelsCount int
	capacity      int
	count         int
	head          int

	samples [][]int16
	errs    [][]uint8
	index   []int64
}

func newRingSet(channelsCount, capacity int) *ringSet {
	if capacity <= 0 {
		capacity = 1
	}
	r := &ringSet{
		channelsCount: channelsCount,
		capacity:      capacity,
		samples:       make([][]int16, channelsCount),
		errs:          make([][]uint8, channelsCount),
		index:         make([]int64, capacity),
	}
	for ch := 0; ch < channelsCount; ch++ {
		r.samples[ch] = make([]int16, capacity)
		r.errs[ch] = make([]uint8, capacity)
	}
	return r
}

// appendOne writes one absolute-index sample across all channels,
// advancing the ring by one slot.
func (r *ringSet) appendOne(absIndex int64, perChannel []int16, perChannelErr []uint8) {
	pos := r.head
	for ch := 0; ch < r.channelsCount; ch++ {
		r.samples[ch][pos] = perChannel[ch]
		r.errs[ch][pos] = perChannelErr[ch]
	}
	r.index[pos] = absIndex
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// appendData extends the ring buffers with the 200 samples from one
// flushed DATA packet: samples in channel order, one error-flag byte per
// channel replicated to sample resolution, and the absolute index
// seq*200+k for k in [0,200).
func (r *ringSet) appendData(d *wire.DataBody) {
	perChannel := make([]int16, r.channelsCount)
	perChannelErr := make([]uint8, r.channelsCount)
	base := int64(d.Seq) * wire.SamplesPerPacket
	for k := 0; k < wire.SamplesPerPacket; k++ {
		for ch := 0; ch < r.channelsCount && ch < len(d.Samples); ch++ {
			perChannel[ch] = d.Samples[ch][k]
			perChannelErr[ch] = d.ErrCount[ch]
		}
		r.appendOne(base+int64(k), perChannel, perChannelErr)
	}
}

// Snapshot is a read-only, chronologically-ordered copy of the ring
// buffers, safe to hand to a renderer or CSV writer without holding the
// device lock.
type Snapshot struct {
	ChannelsCount int
	AbsIndex      []int64
	Samples       [][]int16 // [channel][n]
	ErrFlags      [][]uint8 // [channel][n]
}

// snapshot copies the ring in chronological (oldest-first) order.
func (r *ringSet) snapshot() Snapshot {
	n := r.count
	s := Snapshot{
		ChannelsCount: r.channelsCount,
		AbsIndex:      make([]int64, n),
		Samples:       make([][]int16, r.channelsCount),
		ErrFlags:      make([][]uint8, r.channelsCount),
	}
	start := (r.head - n + r.capacity) % r.capacity
	for ch := 0; ch < r.channelsCount; ch++ {
		s.Samples[ch] = make([]int16, n)
		s.ErrFlags[ch] = make([]uint8, n)
	}
	for i := 0; i < n; i++ {
		pos := (start + i) % r.capacity
		s.AbsIndex[i] = r.index[pos]
		for ch := 0; ch < r.channelsCount; ch++ {
			s.Samples[ch][i] = r.samples[ch][pos]
			s.ErrFlags[ch][i] = r.errs[ch][pos]
		}
	}
	return s
}

// Snapshot returns a read-only copy of the device's ring buffers, taken
// under the device lock per the UI snapshot contract: copy under lock,
// render lock-free on the copy.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ring == nil {
		return Snapshot{}
	}
	return d.ring.snapshot()
}
