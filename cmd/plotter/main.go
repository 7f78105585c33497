// Command plotter is the headless operator front-end: a line-oriented
// command loop over stdin binding the telemetry network's runtime
// surface (connect/disconnect, ping, get_id, register receivers, list
// receivers, start/stop sampling, force trigger, save-buffer-to-CSV,
// clear) to an operator terminal, with an optional Prometheus listener.
// "remove" is an alias of "disconnect"; removing a registered receiver
// is not offered as a command.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/CaTiSCZ/plotter/pkg/csvdump"
	"github.com/CaTiSCZ/plotter/pkg/device"
	"github.com/CaTiSCZ/plotter/pkg/metrics"
	"github.com/CaTiSCZ/plotter/pkg/plotterconfig"
	"github.com/CaTiSCZ/plotter/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

const samplePeriod = time.Second / time.Duration(device.SampleRateHz)

func main() {
	log.SetLevel(log.InfoLevel)

	configPath := flag.String("config", "", "path to a plotter.ini config file")
	dataBind := flag.String("data-bind", "", "local address to bind the data ingest socket, host:port (defaults to config data_port on all interfaces)")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address, e.g. :9108")
	csvDir := flag.String("csv-dir", ".", "directory to write save-buffer-to-CSV output into")
	flag.Parse()

	cfg := plotterconfig.Default()
	if *configPath != "" {
		loaded, err := plotterconfig.Load(*configPath)
		if err != nil {
			fmt.Printf("could not load config %v: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	bindAddr := *dataBind
	if bindAddr == "" {
		bindAddr = fmt.Sprintf(":%d", cfg.DataPort)
	}
	dataAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		fmt.Printf("bad data-bind address %v: %v\n", bindAddr, err)
		os.Exit(1)
	}

	network, err := telemetry.NewNetwork(dataAddr)
	if err != nil {
		fmt.Printf("could not bind data socket %v: %v\n", dataAddr, err)
		os.Exit(1)
	}
	defer network.Disconnect()

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)
	metricsSync := metrics.NewSync(metricsReg)

	if *metricsAddr != "" {
		go servePolledMetrics(network, metricsSync, *metricsAddr, reg)
	}

	repl{net: network, cfg: cfg, csvDir: *csvDir}.run()
}

// servePolledMetrics periodically syncs every known device's counters into
// the Prometheus registry and serves /metrics. Polling (rather than a
// push from the ingest worker) keeps pkg/metrics decoupled from
// pkg/device, matching the UI/CLI's own non-owning observer role.
func servePolledMetrics(network *telemetry.Network, sync *metrics.Sync, addr string, reg *prometheus.Registry) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			network.SyncMetrics(sync)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	log.WithField("addr", addr).Info("serving /metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics listener stopped")
	}
}

type repl struct {
	net    *telemetry.Network
	cfg    *plotterconfig.Config
	csvDir string
}

func (r repl) run() {
	fmt.Println("plotter ready. commands: connect <ip> | disconnect <ip> | ping <ip> | get_id <ip> | register <ip> <recv_ip> <recv_port> | remove <ip> | start <ip> <n> | start_on_trigger <ip> <n> | stop <ip> | force_trigger <ip> | save <ip> | clear <ip> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" {
			return
		}
		if err := r.dispatch(fields); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func parseDeviceIP(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("not an IP address: %q", s)
	}
	return ip, nil
}

func (r repl) dispatch(fields []string) error {
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "connect":
		if len(args) != 1 {
			return fmt.Errorf("usage: connect <ip>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		deviceAddr := &net.UDPAddr{IP: deviceIP, Port: r.cfg.CommandPort}
		localReply := &net.UDPAddr{Port: r.cfg.ReplyPort}
		dev, err := r.net.Connect(localReply, deviceAddr)
		if err != nil {
			return err
		}
		id, err := r.net.GetID(deviceIP)
		if err != nil {
			return err
		}
		fmt.Printf("connected to %v, %d channels, device state %v\n", args[0], id.ChannelsCount, dev.State())
		return nil

	case "disconnect", "remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <ip>", cmd)
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		return r.net.Remove(deviceIP)

	case "ping":
		if len(args) != 1 {
			return fmt.Errorf("usage: ping <ip>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		if err := r.net.Ping(deviceIP); err != nil {
			return err
		}
		fmt.Println("pong")
		return nil

	case "get_id":
		if len(args) != 1 {
			return fmt.Errorf("usage: get_id <ip>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		id, err := r.net.GetID(deviceIP)
		if err != nil {
			return err
		}
		fmt.Printf("channels=%d\n", id.ChannelsCount)
		return nil

	case "register":
		if len(args) != 3 {
			return fmt.Errorf("usage: register <ip> <recv_ip> <recv_port>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		recvIP := net.ParseIP(args[1]).To4()
		if recvIP == nil {
			return fmt.Errorf("bad receiver ip %v", args[1])
		}
		_, err = r.net.RegisterReceiver(deviceIP, [4]byte{recvIP[0], recvIP[1], recvIP[2], recvIP[3]}, uint16(port))
		return err

	case "list_receivers":
		if len(args) != 1 {
			return fmt.Errorf("usage: list_receivers <ip>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		receivers, err := r.net.ListReceivers(deviceIP)
		if err != nil {
			return err
		}
		for i, recv := range receivers {
			fmt.Printf("  [%d] %s:%d\n", i, recv.IP.String(), recv.Port)
		}
		return nil

	case "start":
		if len(args) != 2 {
			return fmt.Errorf("usage: start <ip> <num_packets>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		return r.net.StartSampling(deviceIP, uint32(n))

	case "start_on_trigger":
		if len(args) != 2 {
			return fmt.Errorf("usage: start_on_trigger <ip> <num_packets>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		return r.net.StartOnTrigger(deviceIP, uint32(n))

	case "stop":
		if len(args) != 1 {
			return fmt.Errorf("usage: stop <ip>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		return r.net.StopSampling(deviceIP)

	case "force_trigger":
		if len(args) != 1 {
			return fmt.Errorf("usage: force_trigger <ip>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		return r.net.ForceTrigger(deviceIP)

	case "save":
		if len(args) != 1 {
			return fmt.Errorf("usage: save <ip>")
		}
		return r.saveCSV(args[0])

	case "clear":
		if len(args) != 1 {
			return fmt.Errorf("usage: clear <ip>")
		}
		deviceIP, err := parseDeviceIP(args[0])
		if err != nil {
			return err
		}
		return r.net.Clear(deviceIP)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (r repl) saveCSV(ip string) error {
	deviceIP, err := parseDeviceIP(ip)
	if err != nil {
		return err
	}
	snap, err := r.net.Snapshot(deviceIP)
	if err != nil {
		return err
	}
	path := filepath.Join(r.csvDir, csvdump.FileName(ip))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := csvdump.WriteDevice(f, snap, samplePeriod); err != nil {
		return err
	}
	fmt.Printf("wrote %v\n", path)
	return nil
}
