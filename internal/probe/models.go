package probe

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateClosed     State = iota // not yet opened
	StateOpening                 // connected, target not configured
	StateConfigured              // target configured
	StateDownloaded              // image downloaded
	StateFinal                   // closed; terminal
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateConfigured:
		return "configured"
	case StateDownloaded:
		return "downloaded"
	case StateFinal:
		return "final"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport selects how the host reaches the probe: a USB serial number or
// a TCP endpoint. Exactly one must be set.
type Transport struct {
	USBSerial string `yaml:"usb_serial,omitempty" toml:"usb_serial" json:"usb_serial,omitempty"`
	Host      string `yaml:"host,omitempty" toml:"host" json:"host,omitempty"`
	Port      int    `yaml:"port,omitempty" toml:"port" json:"port,omitempty"`
}

// ParseTCP builds a TCP transport from "host:port".
func ParseTCP(endpoint string) (Transport, error) {
	host, portText, err := net.SplitHostPort(strings.TrimSpace(endpoint))
	if err != nil {
		return Transport{}, fmt.Errorf("parse tcp endpoint %q: %w", endpoint, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return Transport{}, fmt.Errorf("parse tcp endpoint %q: invalid port", endpoint)
	}
	return Transport{Host: host, Port: port}, nil
}

func (t Transport) IsUSB() bool {
	return t.USBSerial != ""
}

func (t Transport) Validate() error {
	usb := t.USBSerial != ""
	tcp := t.Host != "" || t.Port != 0
	switch {
	case usb && tcp:
		return errors.New("transport: usb_serial and tcp endpoint are mutually exclusive")
	case !usb && !tcp:
		return errors.New("transport: one of usb_serial or host/port is required")
	case tcp && (t.Host == "" || t.Port <= 0 || t.Port > 65535):
		return fmt.Errorf("transport: invalid tcp endpoint %s", t)
	}
	return nil
}

func (t Transport) String() string {
	if t.IsUSB() {
		return "usb:" + t.USBSerial
	}
	return "tcp:" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// TargetConfig describes the emulator and target a session drives. It is
// comparable so re-configuration can be checked for equality.
type TargetConfig struct {
	EmulatorType  string    `yaml:"emulator" toml:"emulator" json:"emulator"`
	Transport     Transport `yaml:"transport" toml:"transport" json:"transport"`
	SoC           string    `yaml:"soc" toml:"soc" json:"soc"`
	Core          string    `yaml:"core" toml:"core" json:"core"`
	Application   string    `yaml:"application" toml:"application" json:"application"`
	MemorySpace   string    `yaml:"memory_space" toml:"memory_space" json:"memory_space"`
	SymbolFormat  string    `yaml:"symbol_format" toml:"symbol_format" json:"symbol_format"`
	ProgramFormat string    `yaml:"program_format" toml:"program_format" json:"program_format"`
	Demo          bool      `yaml:"demo" toml:"demo" json:"demo"`
}

// Validate checks that every mandatory field is present.
func (c TargetConfig) Validate() error {
	var missing []string
	for name, value := range map[string]string{
		"emulator":     c.EmulatorType,
		"soc":          c.SoC,
		"application":  c.Application,
		"memory_space": c.MemorySpace,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("target config missing %s", strings.Join(missing, ", "))
	}
	return c.Transport.Validate()
}

// WithDefaults fills optional fields with their conventional values.
func (c TargetConfig) WithDefaults() TargetConfig {
	if c.Core == "" {
		c.Core = "Core0"
	}
	if c.SymbolFormat == "" {
		c.SymbolFormat = "ELF"
	}
	if c.ProgramFormat == "" {
		c.ProgramFormat = "HEX"
	}
	return c
}
