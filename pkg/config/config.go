// Package config loads df1d's connection configuration: one serial line
// per [connection.<name>] section (spec section 6), parsed with
// gopkg.in/ini.v1 rather than the original's free-form XML, since
// serial/TCP/daemonisation/config-parsing are named external
// collaborators, not specified bit-exactly.
package config

import (
	"fmt"
	"strings"

	"github.com/abdf1/df1/pkg/link"
	"gopkg.in/ini.v1"
)

// allowedBaud is the enumerated baud-rate set spec section 6 names.
var allowedBaud = map[int]bool{
	110: true, 300: true, 600: true, 1200: true, 2400: true,
	9600: true, 19200: true, 38400: true,
}

const connectionSectionPrefix = "connection."

// ConnectionConfig is one parsed [connection.<name>] section.
type ConnectionConfig struct {
	Name            string
	Duplex          link.Duplex
	ErrorDetect     link.ErrorDetect
	Device          string
	Baud            int
	Port            int
	DuplicateDetect bool
	MaxNak          uint8
	MaxEnq          uint8
	AckTimeoutMS    int
}

// AckTimeoutTicks converts the configured millisecond deadline to the
// scheduler's 10ms tick period (spec section 5), rounding up so a
// configured timeout is never shortened by truncation.
func (c ConnectionConfig) AckTimeoutTicks() uint32 {
	return uint32((c.AckTimeoutMS + 9) / 10)
}

// Config is the full set of configured connections, keyed by name for
// df1d to build one link.Connection per entry.
type Config struct {
	Connections []ConnectionConfig
}

// ByName looks up a parsed connection by its configured name.
func (c *Config) ByName(name string) (ConnectionConfig, bool) {
	for _, cc := range c.Connections {
		if cc.Name == name {
			return cc, true
		}
	}
	return ConnectionConfig{}, false
}

// Load reads and validates a df1d configuration file.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return parse(f)
}

// LoadBytes parses configuration already held in memory (used by tests
// and by callers that assemble config without a filesystem path).
func LoadBytes(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("config: parsing buffer: %w", err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Config, error) {
	cfg := &Config{}
	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		if !strings.HasPrefix(name, connectionSectionPrefix) {
			continue
		}
		cc, err := parseConnection(strings.TrimPrefix(name, connectionSectionPrefix), section)
		if err != nil {
			return nil, err
		}
		cfg.Connections = append(cfg.Connections, cc)
	}
	return cfg, nil
}

func parseConnection(name string, section *ini.Section) (ConnectionConfig, error) {
	cc := ConnectionConfig{Name: name}

	duplexStr := section.Key("duplex").MustString("full")
	switch duplexStr {
	case "full":
		cc.Duplex = link.DuplexFull
	case "master":
		cc.Duplex = link.DuplexHalfMaster
	case "slave":
		cc.Duplex = link.DuplexHalfSlave
	default:
		return cc, fmt.Errorf("config: connection %q: invalid duplex %q", name, duplexStr)
	}

	errDetectStr := section.Key("error_detect").MustString("bcc")
	switch errDetectStr {
	case "bcc":
		cc.ErrorDetect = link.ErrorDetectBCC
	case "crc":
		cc.ErrorDetect = link.ErrorDetectCRC16
	default:
		return cc, fmt.Errorf("config: connection %q: invalid error_detect %q", name, errDetectStr)
	}

	cc.Device = section.Key("device").String()
	if cc.Device == "" {
		return cc, fmt.Errorf("config: connection %q: device is required", name)
	}

	baud, err := section.Key("baud").Int()
	if err != nil {
		return cc, fmt.Errorf("config: connection %q: invalid baud: %w", name, err)
	}
	if !allowedBaud[baud] {
		return cc, fmt.Errorf("config: connection %q: unsupported baud %d", name, baud)
	}
	cc.Baud = baud

	port, err := section.Key("port").Int()
	if err != nil {
		return cc, fmt.Errorf("config: connection %q: invalid port: %w", name, err)
	}
	cc.Port = port

	cc.DuplicateDetect = section.Key("duplicate_detect").MustBool(true)

	maxNak, err := section.Key("max_nak").Int()
	if err != nil {
		return cc, fmt.Errorf("config: connection %q: invalid max_nak: %w", name, err)
	}
	if maxNak < 0 || maxNak > 255 {
		return cc, fmt.Errorf("config: connection %q: max_nak out of range: %d", name, maxNak)
	}
	cc.MaxNak = uint8(maxNak)

	maxEnq, err := section.Key("max_enq").Int()
	if err != nil {
		return cc, fmt.Errorf("config: connection %q: invalid max_enq: %w", name, err)
	}
	if maxEnq < 0 || maxEnq > 255 {
		return cc, fmt.Errorf("config: connection %q: max_enq out of range: %d", name, maxEnq)
	}
	cc.MaxEnq = uint8(maxEnq)

	ackTimeout, err := section.Key("ack_timeout").Int()
	if err != nil {
		return cc, fmt.Errorf("config: connection %q: invalid ack_timeout: %w", name, err)
	}
	cc.AckTimeoutMS = ackTimeout

	return cc, nil
}

// LinkConfig adapts a parsed ConnectionConfig to link.Config for
// NewConnection.
func (c ConnectionConfig) LinkConfig() link.Config {
	return link.Config{
		Name:            c.Name,
		ErrorDetect:     c.ErrorDetect,
		Duplex:          c.Duplex,
		DuplicateDetect: c.DuplicateDetect,
		MaxNak:          c.MaxNak,
		MaxEnq:          c.MaxEnq,
		AckTimeoutTicks: c.AckTimeoutTicks(),
	}
}
