package device

import (
	"sort"

	"github.com/CaTiSCZ/plotter/pkg/wire"
)

// seqBefore reports whether a comes strictly before b on the 16-bit
// sequence space, using the shorter-distance rule so comparisons remain
// correct across the 2^16 wraparound boundary. It assumes, as the
// wraparound edge case requires, that the flush window is far smaller
// than 2^15.
func seqBefore(a, b uint16) bool {
	return int16(a-b) < 0
}

// InsertData is the reorder & gap engine's entry point for a verified DATA
// packet: insert (seq, body) into the pending map, drop it if it is older
// than everything currently pending, and flush the lowest chunkSize
// entries once the map is populated past minBufferSize.
func (d *Device) InsertData(seq uint16, body []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.channelsCount == 0 {
		// GET_ID hasn't run yet; there is nowhere to decode this into.
		return
	}

	if len(d.reorder) > 0 {
		lo := d.minKeyLocked()
		if seqBefore(seq, lo) {
			d.lateDrops++
			d.log.WithField("seq", seq).Debug("late packet dropped")
			return
		}
	}

	// Duplicates overwrite silently; the later body is accepted as
	// equally valid.
	d.reorder[seq] = body

	if len(d.reorder) >= d.minBufferSize {
		d.flushChunkLocked()
	}
}

// minKeyLocked returns the wraparound-aware minimum key currently
// pending. Caller must hold d.mu.
func (d *Device) minKeyLocked() uint16 {
	keys := d.sortedKeysLocked()
	return keys[0]
}

// sortedKeysLocked returns all pending sequence numbers in ascending
// wraparound-aware order. Caller must hold d.mu.
func (d *Device) sortedKeysLocked() []uint16 {
	keys := make([]uint16, 0, len(d.reorder))
	for k := range d.reorder {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return keys
	}
	// Anchor the ordering on the wraparound-aware minimum of the set and
	// sort by forward distance from it, so sort.Slice sees a comparison
	// that respects wraparound for the whole window. This is valid because
	// the pending window is always far smaller than half the sequence space.
	anchor := keys[0]
	for _, k := range keys[1:] {
		if seqBefore(k, anchor) {
			anchor = k
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		di := uint16(keys[i] - anchor)
		dj := uint16(keys[j] - anchor)
		return di < dj
	})
	return keys
}

// flushChunkLocked collects the chunkSize lowest-keyed pending entries in
// ascending key order, credits the gap between them as losses, and
// flushes them into the ring buffers. Caller must hold d.mu.
func (d *Device) flushChunkLocked() {
	keys := d.sortedKeysLocked()
	n := d.chunkSize
	if n > len(keys) {
		n = len(keys)
	}
	toFlush := keys[:n]
	lo := toFlush[0]
	hi := toFlush[len(toFlush)-1]
	gap := uint16(hi-lo) + 1 - uint16(len(toFlush))
	d.lostPackets += uint64(gap)

	for _, k := range toFlush {
		d.flushOneLocked(k)
	}
}

// flushOneLocked decodes and appends one pending entry to the ring
// buffers, then removes it from the pending map. Caller must hold d.mu.
func (d *Device) flushOneLocked(seq uint16) {
	body, ok := d.reorder[seq]
	if !ok {
		return
	}
	delete(d.reorder, seq)
	data, err := wire.DecodeData(body, d.channelsCount)
	if err != nil {
		d.log.WithError(err).WithField("seq", seq).Warn("failed to decode pending packet at flush")
		return
	}
	d.packetsRecv++
	if d.ring != nil {
		d.ring.appendData(data)
	}
}

// FlushAll processes every pending key in ascending order, counting gaps
// as losses, and empties the map. Called when the session controller
// transitions to STOPPING.
func (d *Device) FlushAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushAllLocked()
}

func (d *Device) flushAllLocked() {
	keys := d.sortedKeysLocked()
	if len(keys) == 0 {
		return
	}
	lo := keys[0]
	hi := keys[len(keys)-1]
	gap := uint16(hi-lo) + 1 - uint16(len(keys))
	d.lostPackets += uint64(gap)
	for _, k := range keys {
		d.flushOneLocked(k)
	}
}

// PendingCount returns the number of sequence numbers currently held in
// the reorder map, for tests and diagnostics.
func (d *Device) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reorder)
}

// LostPackets returns the cumulative lost_packets counter.
func (d *Device) LostPackets() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lostPackets
}
