package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/slip.capture/internal/serialmux"
	"github.com/banshee-data/slip.capture/internal/slip"
)

// Pcap output modes.
const (
	PcapPerPacket = "per-packet"
	PcapSingle    = "single"
	PcapOff       = "off"
)

// CaptureConfig is the on-disk configuration for slip-capture. Every field is
// optional: the Get* accessors supply the default for anything left unset, so
// partial files are safe. The same keys are accepted in JSON and TOML.
type CaptureConfig struct {
	// Serial link
	Port        *string `json:"port,omitempty" toml:"port"`
	BaudRate    *int    `json:"baud_rate,omitempty" toml:"baud_rate"`
	DataBits    *int    `json:"data_bits,omitempty" toml:"data_bits"`
	StopBits    *int    `json:"stop_bits,omitempty" toml:"stop_bits"`
	Parity      *string `json:"parity,omitempty" toml:"parity"`
	ReadTimeout *string `json:"read_timeout,omitempty" toml:"read_timeout"` // duration string like "500ms"

	// Decoder
	MaxPacketLen *int `json:"max_packet_len,omitempty" toml:"max_packet_len"`

	// Sinks
	LogDir          *string `json:"log_dir,omitempty" toml:"log_dir"`
	PacketDir       *string `json:"packet_dir,omitempty" toml:"packet_dir"`
	DBPath          *string `json:"db_path,omitempty" toml:"db_path"`
	PcapMode        *string `json:"pcap_mode,omitempty" toml:"pcap_mode"`
	PcapLinkType    *int    `json:"pcap_link_type,omitempty" toml:"pcap_link_type"`
	MQTTBroker      *string `json:"mqtt_broker,omitempty" toml:"mqtt_broker"`
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty" toml:"mqtt_topic_prefix"`

	// Driver
	Listen         *string `json:"listen,omitempty" toml:"listen"`
	ReconnectDelay *string `json:"reconnect_delay,omitempty" toml:"reconnect_delay"`
}

// EmptyCaptureConfig returns a CaptureConfig with all fields unset.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// LoadCaptureConfig loads a CaptureConfig from a .json or .toml file no larger
// than 1MB, then validates it.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCaptureConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys: %v", undecoded)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	if c.MaxPacketLen != nil && *c.MaxPacketLen <= 0 {
		return fmt.Errorf("max_packet_len must be positive, got %d", *c.MaxPacketLen)
	}

	if _, err := c.PortOptions().Normalise(); err != nil {
		return err
	}

	if c.PcapMode != nil {
		switch *c.PcapMode {
		case PcapPerPacket, PcapSingle, PcapOff:
		default:
			return fmt.Errorf("pcap_mode must be %q, %q or %q, got %q", PcapPerPacket, PcapSingle, PcapOff, *c.PcapMode)
		}
	}

	if c.PcapLinkType != nil && (*c.PcapLinkType < 0 || *c.PcapLinkType > 0xFF) {
		return fmt.Errorf("pcap_link_type out of range: %d", *c.PcapLinkType)
	}

	for name, v := range map[string]*string{"read_timeout": c.ReadTimeout, "reconnect_delay": c.ReconnectDelay} {
		if v != nil && *v != "" {
			if d, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			} else if d < 0 {
				return fmt.Errorf("%s must be non-negative, got %s", name, *v)
			}
		}
	}

	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetPort returns the serial device path or the default.
func (c *CaptureConfig) GetPort() string { return stringOr(c.Port, "/dev/ttyUSB0") }

// PortOptions returns the serial line settings, defaults included.
func (c *CaptureConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: intOr(c.BaudRate, serialmux.DefaultBaudRate),
		DataBits: intOr(c.DataBits, 8),
		StopBits: intOr(c.StopBits, 1),
		Parity:   stringOr(c.Parity, "N"),
	}
}

// GetReadTimeout returns how long a serial read may block before it reports a
// timeout.
func (c *CaptureConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, 500*time.Millisecond)
}

// GetMaxPacketLen returns the decoder's packet length limit.
func (c *CaptureConfig) GetMaxPacketLen() int {
	return intOr(c.MaxPacketLen, slip.DefaultMaxPacketLen)
}

func (c *CaptureConfig) GetLogDir() string    { return stringOr(c.LogDir, "logs") }
func (c *CaptureConfig) GetPacketDir() string { return stringOr(c.PacketDir, "packets") }
func (c *CaptureConfig) GetDBPath() string    { return stringOr(c.DBPath, "slip_capture.db") }
func (c *CaptureConfig) GetPcapMode() string  { return stringOr(c.PcapMode, PcapPerPacket) }

// GetPcapLinkType returns the pcap link-layer header type. The default of 1
// is Ethernet.
func (c *CaptureConfig) GetPcapLinkType() int { return intOr(c.PcapLinkType, 1) }

// GetMQTTBroker returns the broker URL. Empty disables MQTT publishing.
func (c *CaptureConfig) GetMQTTBroker() string { return stringOr(c.MQTTBroker, "") }

func (c *CaptureConfig) GetMQTTTopicPrefix() string { return stringOr(c.MQTTTopicPrefix, "slip") }

func (c *CaptureConfig) GetListen() string { return stringOr(c.Listen, ":8080") }

// GetReconnectDelay returns the pause before reopening a failed port.
func (c *CaptureConfig) GetReconnectDelay() time.Duration {
	return durationOr(c.ReconnectDelay, 2*time.Second)
}
