// Package telemetry is the top-level orchestrator: it owns the shared
// data-ingest worker and the set of registered devices, and implements
// multi-device leader/follower sequencing.
package telemetry

import (
	"errors"
	"net"
	"sync"

	"github.com/CaTiSCZ/plotter/pkg/command"
	"github.com/CaTiSCZ/plotter/pkg/device"
	"github.com/CaTiSCZ/plotter/pkg/ingest"
	"github.com/CaTiSCZ/plotter/pkg/metrics"
	"github.com/CaTiSCZ/plotter/pkg/wire"
	log "github.com/sirupsen/logrus"
)

var (
	ErrUnknownDevice = errors.New("telemetry: device not registered")
	ErrAlreadyExists = errors.New("telemetry: device already registered")
)

// Ports, per the default network ports.
const (
	DefaultCommandPort = 10578
	DefaultReplyPort   = 10579
	DefaultDataPort    = 10577
)

// managedDevice pairs a device aggregate with the command endpoint used
// to talk to it.
type managedDevice struct {
	dev *device.Device
	ep  *command.Endpoint
}

// Network is the plotter's top-level object: it should be created before
// doing anything else. The data socket is bound when the Network is
// created; each device's command socket is opened by Connect and closed
// by Remove or Disconnect. Sockets are not re-bound in place.
type Network struct {
	mu      sync.Mutex
	devices map[string]*managedDevice

	dataAddr *net.UDPAddr
	worker   *ingest.Worker
	log      *log.Entry
}

// NewNetwork creates a Network bound to the given local data address
// (":10577" by default). The ingest worker starts immediately.
func NewNetwork(dataAddr *net.UDPAddr) (*Network, error) {
	n := &Network{
		devices:  make(map[string]*managedDevice),
		dataAddr: dataAddr,
		log:      log.WithField("component", "network"),
	}
	worker, err := ingest.NewWorker(dataAddr, n.handleTrigger)
	if err != nil {
		return nil, err
	}
	n.worker = worker
	go worker.Run()
	return n, nil
}

// Disconnect stops the ingest worker and closes every device's command
// endpoint.
func (n *Network) Disconnect() {
	n.worker.Stop()
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, md := range n.devices {
		md.ep.Close()
	}
}

// Connect registers a new device at deviceAddr, reachable on the command
// port, and opens its command endpoint. localReplyAddr is the plotter's
// source address for commands (":10579" by default); the device sends
// its replies there.
func (n *Network) Connect(localReplyAddr, deviceAddr *net.UDPAddr) (*device.Device, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := deviceAddr.IP.String()
	if _, exists := n.devices[key]; exists {
		return nil, ErrAlreadyExists
	}

	ep, err := command.NewEndpoint(localReplyAddr, deviceAddr)
	if err != nil {
		return nil, err
	}
	dev := device.NewDevice(deviceAddr.IP)
	n.devices[key] = &managedDevice{dev: dev, ep: ep}
	n.worker.Register(deviceAddr.IP, dev)
	n.log.WithField("device", key).Info("device connected")
	return dev, nil
}

// Remove disconnects a device and stops demultiplexing its datagrams.
func (n *Network) Remove(deviceIP net.IP) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := deviceIP.String()
	md, ok := n.devices[key]
	if !ok {
		return ErrUnknownDevice
	}
	md.ep.Close()
	delete(n.devices, key)
	n.worker.Unregister(deviceIP)
	return nil
}

func (n *Network) lookup(deviceIP net.IP) (*managedDevice, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	md, ok := n.devices[deviceIP.String()]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return md, nil
}

// GetID issues GET_ID and, on success, sets the device's channel count so
// its reorder and ring buffers can be allocated.
func (n *Network) GetID(deviceIP net.IP) (*wire.Identification, error) {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return nil, err
	}
	id, err := md.ep.GetID()
	if err != nil {
		return nil, err
	}
	md.dev.SetChannelsCount(int(id.ChannelsCount))
	return id, nil
}

// StartSampling starts sampling immediately on one device.
func (n *Network) StartSampling(deviceIP net.IP, numPackets uint32) error {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return err
	}
	if md.dev.ChannelsCount() == 0 {
		return device.ErrChannelsUnknown
	}
	if _, err := md.ep.StartSampling(numPackets); err != nil {
		return err
	}
	return md.dev.BeginSampling(numPackets)
}

// StartOnTrigger arms one device to begin sampling on its next trigger.
func (n *Network) StartOnTrigger(deviceIP net.IP, numPackets uint32) error {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return err
	}
	if md.dev.ChannelsCount() == 0 {
		return device.ErrChannelsUnknown
	}
	if _, err := md.ep.StartOnTrigger(numPackets); err != nil {
		return err
	}
	return md.dev.ArmForTrigger(numPackets)
}

// StopSampling requests an immediate stop. The session transitions to
// IDLE whether the ACK arrives or the command times out, per the
// STOP_SAMPLING failure semantics.
func (n *Network) StopSampling(deviceIP net.IP) error {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return err
	}
	md.dev.BeginStopping()
	packetsSent, err := md.ep.StopSampling()
	if err != nil {
		n.log.WithField("device", deviceIP.String()).Warn("STOP_SAMPLING ACK never arrived, forcing IDLE")
		packetsSent = md.dev.PacketsReceived()
	}
	md.dev.FinishStopping(packetsSent)
	return nil
}

// Ping sends PING and waits for the ACK, confirming the device is alive
// and reachable.
func (n *Network) Ping(deviceIP net.IP) error {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return err
	}
	return md.ep.Ping()
}

// ForceTrigger requests the device originate a trigger now.
func (n *Network) ForceTrigger(deviceIP net.IP) error {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return err
	}
	return md.ep.ForceTrigger()
}

// RegisterReceiver registers (ip, port) as a push destination on the
// device.
func (n *Network) RegisterReceiver(deviceIP net.IP, ip [4]byte, port uint16) (*command.ReceiverRegistration, error) {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return nil, err
	}
	return md.ep.RegisterReceiver(ip, port)
}

// RemoveReceiver removes a previously registered push destination on the
// device.
func (n *Network) RemoveReceiver(deviceIP net.IP, ip [4]byte, port uint16) error {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return err
	}
	return md.ep.RemoveReceiver(ip, port)
}

// ListReceivers returns the device's currently registered push
// destinations.
func (n *Network) ListReceivers(deviceIP net.IP) ([]command.Receiver, error) {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return nil, err
	}
	return md.ep.GetReceivers()
}

// Snapshot returns a read-only copy of one device's ring buffers.
func (n *Network) Snapshot(deviceIP net.IP) (device.Snapshot, error) {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return device.Snapshot{}, err
	}
	return md.dev.Snapshot(), nil
}

// SyncMetrics feeds every registered device's counters into sync, for a
// caller to poll on an interval and expose via pkg/metrics.Handler.
func (n *Network) SyncMetrics(sync *metrics.Sync) {
	n.mu.Lock()
	snapshot := make(map[string]*device.Device, len(n.devices))
	for key, md := range n.devices {
		snapshot[key] = md.dev
	}
	n.mu.Unlock()

	for key, dev := range snapshot {
		c := dev.Counters()
		sync.Observe(key, c.CrcErrors, c.LostPackets, c.LateDrops)
	}
	sync.ObserveStray(n.worker.StrayCount())
}

// Clear discards one device's plotted ring buffer contents.
func (n *Network) Clear(deviceIP net.IP) error {
	md, err := n.lookup(deviceIP)
	if err != nil {
		return err
	}
	md.dev.Clear()
	return nil
}

// handleTrigger mirrors the device-side trigger sub-protocol: for a fresh
// trigger, send exactly one TRIGGER_ACK back to its origin.
func (n *Network) handleTrigger(dev *device.Device, addr net.IP, trig *wire.TriggerBody) {
	md, err := n.lookup(addr)
	if err != nil {
		return
	}
	if dev.OnTriggerPacket(trig) {
		if err := md.ep.TriggerAck(); err != nil {
			n.log.WithError(err).WithField("device", addr.String()).Warn("failed to send TRIGGER_ACK")
		}
	}
}

// StartLeaderFollower sequences a multi-device run: every follower is
// given START_ON_TRIGGER before the leader is given START_SAMPLING, per
// the leader/follower orchestration contract. Followers rely on their own
// external trigger wiring to the leader; this only sequences the
// commands.
func (n *Network) StartLeaderFollower(leaderIP net.IP, followerIPs []net.IP, numPackets uint32) error {
	for _, followerIP := range followerIPs {
		if err := n.StartOnTrigger(followerIP, numPackets); err != nil {
			return err
		}
	}
	return n.StartSampling(leaderIP, numPackets)
}
