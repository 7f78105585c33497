package device

import (
	"github.com/CaTiSCZ/plotter/pkg/wire"
	"github.com/rs/xid"
)

// OnTriggerPacket handles a TRIGGER packet arriving on the data socket. It
// mirrors the device-side trigger sub-protocol from the plotter's
// perspective: a fresh trigger (by packet id) gets exactly one
// TRIGGER_ACK command; a repeated retransmission of the same trigger
// (the device retries up to 10 times without an ACK) is recognized and
// not re-acked. If the device was ARMED_FOR_TRIGGER, it immediately
// transitions to SAMPLING with sequence 0. A TRIGGER received while IDLE
// is still honored (ACK still sent) since the device may have rebooted
// independently.
//
// Returns whether a TRIGGER_ACK command should be sent.
func (d *Device) OnTriggerPacket(trig *wire.TriggerBody) (shouldAck bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fresh := !d.triggerAcked || trig.PacketID != d.triggerEpoch

	// resetRunLocked also zeroes triggerEpoch/triggerAcked (the state a
	// fresh run starts in before any trigger has arrived), so it must run
	// before this packet's epoch/acked state is recorded below, or that
	// state is clobbered and every retransmission looks fresh again.
	armed := d.state == StateArmedForTrigger
	if armed {
		d.resetRunLocked(d.numPacketsGoal)
		d.state = StateSampling
	}

	if fresh {
		d.triggerEpoch = trig.PacketID
		d.triggerAcked = false
		d.triggerLogID = xid.New().String()
	}

	log := d.log.WithField("packet_id", trig.PacketID).WithField("trigger_epoch", d.triggerLogID)
	if armed {
		log.Info("trigger fired, session state -> SAMPLING")
	} else {
		log.WithField("state", d.state.String()).Debug("trigger packet received")
	}

	if !d.triggerAcked {
		d.triggerAcked = true
		return true
	}
	return false
}
