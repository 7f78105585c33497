package device

import (
	"net"
	"testing"

	"github.com/CaTiSCZ/plotter/pkg/wire"
	"github.com/stretchr/testify/assert"
)

func TestBeginSamplingRequiresChannelsKnown(t *testing.T) {
	d := NewDevice(net.ParseIP("10.0.0.1"))
	err := d.BeginSampling(0)
	assert.ErrorIs(t, err, ErrChannelsUnknown)
}

func TestSessionLifecycle(t *testing.T) {
	d := newTestDevice(1)
	assert.Equal(t, StateIdle, d.State())

	assert.Nil(t, d.BeginSampling(0))
	assert.Equal(t, StateSampling, d.State())

	d.BeginStopping()
	assert.Equal(t, StateStopping, d.State())

	d.FinishStopping(5)
	assert.Equal(t, StateIdle, d.State())
}

func TestArmThenTriggerTransitionsToSampling(t *testing.T) {
	d := newTestDevice(1)
	assert.Nil(t, d.ArmForTrigger(0))
	assert.Equal(t, StateArmedForTrigger, d.State())

	shouldAck := d.OnTriggerPacket(&wire.TriggerBody{PacketID: 1, SampleOffset: 0})
	assert.True(t, shouldAck)
	assert.Equal(t, StateSampling, d.State())
}

func TestTriggerWhileIdleIsStillAcked(t *testing.T) {
	d := newTestDevice(1)
	shouldAck := d.OnTriggerPacket(&wire.TriggerBody{PacketID: 7})
	assert.True(t, shouldAck)
	assert.Equal(t, StateIdle, d.State())
}

func TestRepeatedTriggerRetransmitNotReAcked(t *testing.T) {
	d := newTestDevice(1)
	assert.Nil(t, d.ArmForTrigger(0))

	first := d.OnTriggerPacket(&wire.TriggerBody{PacketID: 3})
	second := d.OnTriggerPacket(&wire.TriggerBody{PacketID: 3})
	assert.True(t, first)
	assert.False(t, second)
}

func TestTriggerEpochSurvivesArmedTransition(t *testing.T) {
	d := newTestDevice(1)
	assert.Nil(t, d.ArmForTrigger(0))

	first := d.OnTriggerPacket(&wire.TriggerBody{PacketID: 9})
	assert.True(t, first)
	assert.Equal(t, StateSampling, d.State())

	// A retransmission of the same trigger packet id must not be
	// re-acked, even though the first delivery caused the
	// ARMED_FOR_TRIGGER -> SAMPLING reset.
	second := d.OnTriggerPacket(&wire.TriggerBody{PacketID: 9})
	assert.False(t, second)
}

func TestStopSamplingIdempotent(t *testing.T) {
	d := newTestDevice(1)
	d.FinishStopping(0) // already idle, no-op
	assert.Equal(t, StateIdle, d.State())
}

// S4: issuing STOP_SAMPLING after 5 received packets should reflect
// packets_sent as echoed by the device's ACK, independent of how many
// packets made it through the reorder buffer locally.
func TestStopAckReflectsPacketsSent(t *testing.T) {
	d := newTestDevice(1)
	assert.Nil(t, d.BeginSampling(0))
	d.BeginStopping()
	d.FinishStopping(5)
	assert.EqualValues(t, 5, d.Counters().PacketsSent)
}
