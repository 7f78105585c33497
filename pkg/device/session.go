package device

import "errors"

// ErrChannelsUnknown is returned when a caller tries to start sampling
// before GET_ID has established the channel count.
var ErrChannelsUnknown = errors.New("device: call GET_ID first")

// ErrWrongState is returned when a session transition is attempted from a
// state that doesn't allow it.
var ErrWrongState = errors.New("device: operation not valid in current state")

// BeginSampling transitions IDLE -> SAMPLING, as happens once
// START_SAMPLING's ACK is received. Resets the reorder map and counters
// for the new run, since sequence numbers restart at 0.
func (d *Device) BeginSampling(numPackets uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelsCount == 0 {
		return ErrChannelsUnknown
	}
	if d.state != StateIdle && d.state != StateArmedForTrigger {
		return ErrWrongState
	}
	d.resetRunLocked(numPackets)
	d.state = StateSampling
	d.log.WithField("num_packets", numPackets).Info("session state -> SAMPLING")
	return nil
}

// ArmForTrigger transitions IDLE -> ARMED_FOR_TRIGGER, as happens once
// START_ON_TRIGGER's ACK is received.
func (d *Device) ArmForTrigger(numPackets uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelsCount == 0 {
		return ErrChannelsUnknown
	}
	if d.state != StateIdle {
		return ErrWrongState
	}
	d.numPacketsGoal = numPackets
	d.state = StateArmedForTrigger
	d.log.Info("session state -> ARMED_FOR_TRIGGER")
	return nil
}

// BeginStopping transitions to STOPPING and drains the reorder map. It is
// called when STOP_SAMPLING is issued; reaching num_packets does not call
// it, and nothing in this package detects a finished finite run.
func (d *Device) BeginStopping() {
	d.mu.Lock()
	d.state = StateStopping
	d.log.Info("session state -> STOPPING")
	d.flushAllLocked()
	d.mu.Unlock()
}

// FinishStopping transitions STOPPING -> IDLE, whether because the STOP
// ACK arrived or because the command timeout elapsed. STOP_SAMPLING is
// idempotent: calling this from IDLE is a no-op.
func (d *Device) FinishStopping(packetsSent uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateIdle {
		return
	}
	d.packetsSent = packetsSent
	d.state = StateIdle
	d.log.WithField("packets_sent", packetsSent).Info("session state -> IDLE")
}

// resetRunLocked clears the reorder map and per-run counters for a fresh
// sampling run, where sequence numbers restart at 0. Caller must hold
// d.mu.
func (d *Device) resetRunLocked(numPackets uint32) {
	d.reorder = make(map[uint16][]byte)
	d.numPacketsGoal = numPackets
	d.packetsRecv = 0
	d.triggerEpoch = 0
	d.triggerAcked = false
}

// NumPacketsGoal returns the num_packets value from the active
// START_SAMPLING/START_ON_TRIGGER, 0 meaning continuous.
func (d *Device) NumPacketsGoal() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numPacketsGoal
}

// PacketsReceived returns the number of data packets flushed into the
// ring buffers during the active run. It is not compared against
// num_packets; the telemetry network uses it as the packets_sent value
// when a STOP_SAMPLING ACK never arrives.
func (d *Device) PacketsReceived() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.packetsRecv
}
