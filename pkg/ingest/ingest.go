// Package ingest implements the data-ingest worker: a single goroutine
// reading datagrams off the locally-bound data socket and dispatching
// each, by source IPv4, to the right device's reorder engine or trigger
// handler.
package ingest

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CaTiSCZ/plotter/pkg/device"
	"github.com/CaTiSCZ/plotter/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// ReadTimeout bounds each socket read so the worker observes cancellation
// within roughly this interval, per the sole cancellation check.
const ReadTimeout = 300 * time.Millisecond

// TriggerHandler is invoked for a verified TRIGGER packet. Deciding whether
// to send a TRIGGER_ACK (via dev.OnTriggerPacket's shouldAck result) and
// sending it are left to the handler.
type TriggerHandler func(dev *device.Device, addr net.IP, trig *wire.TriggerBody)

// Worker runs the data ingest loop against one locally-bound UDP socket,
// demultiplexing by source address to registered devices.
type Worker struct {
	conn *net.UDPConn

	mu      sync.RWMutex
	devices map[string]*device.Device

	onTrigger TriggerHandler

	stray   atomic.Uint64
	stopped atomic.Bool
	done    chan struct{}
}

// NewWorker binds the data socket at addr (":10577" by default, per the
// data port default).
func NewWorker(addr *net.UDPAddr, onTrigger TriggerHandler) (*Worker, error) {
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	return &Worker{
		conn:      conn,
		devices:   make(map[string]*device.Device),
		onTrigger: onTrigger,
		done:      make(chan struct{}),
	}, nil
}

// Register adds or replaces the device instance addressed by ipv4.
func (w *Worker) Register(ipv4 net.IP, dev *device.Device) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.devices[ipv4.String()] = dev
}

// Unregister removes a device; subsequent datagrams from it are counted
// as stray.
func (w *Worker) Unregister(ipv4 net.IP) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.devices, ipv4.String())
}

func (w *Worker) lookup(ipv4 net.IP) (*device.Device, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d, ok := w.devices[ipv4.String()]
	return d, ok
}

// StrayCount returns the number of datagrams discarded because their
// source address matched no registered device.
func (w *Worker) StrayCount() uint64 {
	return w.stray.Load()
}

// Run reads datagrams until Stop is called. It blocks with a short read
// timeout so the stop flag is observed within ~ReadTimeout.
func (w *Worker) Run() {
	defer close(w.done)
	buf := make([]byte, 8192)
	for !w.stopped.Load() {
		w.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		n, from, err := w.conn.ReadFromUDP(buf)
		if err != nil {
			continue // timeout or transient error; re-check stop flag
		}
		w.dispatch(from.IP, buf[:n])
	}
}

// Stop signals the worker to finish; it is observed at the next socket
// timeout.
func (w *Worker) Stop() {
	w.stopped.Store(true)
	<-w.done
	w.conn.Close()
}

func (w *Worker) dispatch(from net.IP, raw []byte) {
	dev, ok := w.lookup(from)
	if !ok {
		w.stray.Add(1)
		log.WithField("from", from.String()).Debug("stray datagram dropped")
		return
	}

	t, err := wire.PeekType(raw)
	if err != nil {
		dev.RecordCrcError()
		return
	}

	switch t {
	case wire.TypeData:
		body, err := wire.VerifyAndStrip(raw)
		if err != nil {
			dev.RecordCrcError()
			return
		}
		seq, err := wire.DecodeDataHeader(body)
		if err != nil {
			dev.RecordCrcError()
			return
		}
		// body aliases the worker's shared read buffer, which the next
		// ReadFromUDP overwrites; the reorder map holds pending bodies
		// across many subsequent reads, so they must be copied out here.
		stored := append([]byte(nil), body...)
		dev.InsertData(seq, stored)

	case wire.TypeTrigger:
		body, err := wire.VerifyAndStrip(raw)
		if err != nil {
			dev.RecordCrcError()
			return
		}
		trig, err := wire.DecodeTrigger(body)
		if err != nil {
			dev.RecordCrcError()
			return
		}
		if w.onTrigger != nil {
			w.onTrigger(dev, from, trig)
		}

	default:
		log.WithField("from", from.String()).WithField("type", t).Debug("unexpected packet type on data channel, discarded")
	}
}
