// Package plotterconfig persists operator settings — ports, reorder
// tunables, ring buffer duration, and remembered device profiles — to an
// ini file so cmd/plotter can be relaunched without retyping flags.
package plotterconfig

import (
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Config is the full set of persisted plotter settings. Every field has a
// spec-mandated default, so a partial config file (missing sections or
// keys) is never an error; a config file that cannot be read is.
type Config struct {
	CommandPort   int
	ReplyPort     int
	DataPort      int
	MinBufferSize int
	ChunkSize     int
	RingDuration  time.Duration
	Profiles      map[string]string // profile name -> last-used device IPv4
}

// Default returns the configuration implied by the network and buffer
// defaults when no config file is present.
func Default() *Config {
	return &Config{
		CommandPort:   10578,
		ReplyPort:     10579,
		DataPort:      10577,
		MinBufferSize: 90,
		ChunkSize:     30,
		RingDuration:  10 * time.Second,
		Profiles:      map[string]string{},
	}
}

// Load reads a Config from path, falling back to Default for any section
// or key that is absent.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	net := f.Section("network")
	cfg.CommandPort = net.Key("command_port").MustInt(cfg.CommandPort)
	cfg.ReplyPort = net.Key("reply_port").MustInt(cfg.ReplyPort)
	cfg.DataPort = net.Key("data_port").MustInt(cfg.DataPort)

	buf := f.Section("buffers")
	cfg.MinBufferSize = buf.Key("min_buffer_size").MustInt(cfg.MinBufferSize)
	cfg.ChunkSize = buf.Key("chunk_size").MustInt(cfg.ChunkSize)
	ringSeconds := buf.Key("ring_seconds").MustFloat64(cfg.RingDuration.Seconds())
	cfg.RingDuration = time.Duration(ringSeconds * float64(time.Second))

	profiles := f.Section("profiles")
	for _, key := range profiles.Keys() {
		cfg.Profiles[key.Name()] = key.String()
	}

	return cfg, nil
}

// Save persists cfg to path.
func Save(path string, cfg *Config) error {
	f := ini.Empty()

	net, err := f.NewSection("network")
	if err != nil {
		return err
	}
	net.NewKey("command_port", strconv.Itoa(cfg.CommandPort))
	net.NewKey("reply_port", strconv.Itoa(cfg.ReplyPort))
	net.NewKey("data_port", strconv.Itoa(cfg.DataPort))

	buf, err := f.NewSection("buffers")
	if err != nil {
		return err
	}
	buf.NewKey("min_buffer_size", strconv.Itoa(cfg.MinBufferSize))
	buf.NewKey("chunk_size", strconv.Itoa(cfg.ChunkSize))
	buf.NewKey("ring_seconds", strconv.FormatFloat(cfg.RingDuration.Seconds(), 'f', 6, 64))

	profiles, err := f.NewSection("profiles")
	if err != nil {
		return err
	}
	for name, addr := range cfg.Profiles {
		profiles.NewKey(name, addr)
	}

	return f.SaveTo(path)
}

// ProfileAddr returns the remembered device address for name, if any.
func (c *Config) ProfileAddr(name string) (string, bool) {
	addr, ok := c.Profiles[name]
	return addr, ok
}

// SetProfileAddr remembers deviceAddr as the last-used address for name.
func (c *Config) SetProfileAddr(name, deviceAddr string) {
	c.Profiles[name] = deviceAddr
}
