// Package metrics gives the per-device counters named in the error
// handling design (crc_error_count, lost_packets, late-drop count, stray
// count) a Prometheus scrape surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the per-device counter vectors, labeled by device
// address, and one unlabeled stray-datagram counter.
type Registry struct {
	CrcErrors    *prometheus.CounterVec
	LostPackets  *prometheus.CounterVec
	LateDrops    *prometheus.CounterVec
	StrayPackets prometheus.Counter
}

// NewRegistry creates and registers the counter vectors against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		CrcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plotter_crc_errors_total",
			Help: "CRC failures observed on any received packet, per device.",
		}, []string{"device"}),
		LostPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plotter_lost_packets_total",
			Help: "Sequence numbers skipped during reorder-buffer flushes, per device.",
		}, []string{"device"}),
		LateDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plotter_late_drops_total",
			Help: "Packets dropped for arriving older than the oldest pending sequence, per device.",
		}, []string{"device"}),
		StrayPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plotter_stray_packets_total",
			Help: "Datagrams discarded because their source address matched no registered device.",
		}),
	}
	reg.MustRegister(r.CrcErrors, r.LostPackets, r.LateDrops, r.StrayPackets)
	return r
}

// Sync brings the counter vectors up to the cumulative values currently
// held by a device, since the device aggregate itself is the source of
// truth for these counts (per the error handling design) and Prometheus
// counters can only be incremented, not set directly from a snapshot
// without double counting; Sync tracks the last-seen cumulative value per
// device to compute the delta to add.
type Sync struct {
	reg       *Registry
	seen      map[string]seenCounts
	seenStray uint64
}

type seenCounts struct {
	crc  uint64
	lost uint64
	late uint64
}

// NewSync creates a delta-tracking helper for reg.
func NewSync(reg *Registry) *Sync {
	return &Sync{reg: reg, seen: make(map[string]seenCounts)}
}

// Observe adds the delta between the given cumulative counters and the
// last-observed values for deviceAddr to the Prometheus counters.
func (s *Sync) Observe(deviceAddr string, crc, lost, late uint64) {
	prev := s.seen[deviceAddr]
	if crc > prev.crc {
		s.reg.CrcErrors.WithLabelValues(deviceAddr).Add(float64(crc - prev.crc))
	}
	if lost > prev.lost {
		s.reg.LostPackets.WithLabelValues(deviceAddr).Add(float64(lost - prev.lost))
	}
	if late > prev.late {
		s.reg.LateDrops.WithLabelValues(deviceAddr).Add(float64(late - prev.late))
	}
	s.seen[deviceAddr] = seenCounts{crc: crc, lost: lost, late: late}
}

// ObserveStray adds the delta between total (the ingest worker's
// cumulative stray-datagram count) and the last-observed value to the
// stray packets counter.
func (s *Sync) ObserveStray(total uint64) {
	if d := total - s.seenStray; d > 0 {
		s.reg.StrayPackets.Add(float64(d))
	}
	s.seenStray = total
}

// Handler returns the /metrics HTTP handler to mount on the runtime
// surface's listener.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
