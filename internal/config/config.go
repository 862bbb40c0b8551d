package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/relabs-tech/cycle_tracker/internal/calibration"
	"github.com/relabs-tech/cycle_tracker/internal/source"
)

// Tracker names used as config key prefixes and console commands.
const (
	TrackerVertical   = "vertical"
	TrackerHorizontal = "horizontal"
)

// TrackerConfig selects where one logical tracker's samples come from.
type TrackerConfig struct {
	Source     string // mock, replay, udp, steamvr, as5600, serial_encoder
	Serial     string // steamvr tracker serial
	Index      int    // steamvr device index, used when Serial is empty
	ReplayFile string
	ListenAddr string // udp source bind address
}

// Config holds all application configuration values.
type Config struct {
	// Streaming
	SendHz             int
	CalibrationSamples int
	ReferenceAxis      string
	PhaseReverse       bool
	PhaseOffsetDeg     float64

	// Outbound UDP
	UDPSendAddr string

	// Trackers
	Vertical   TrackerConfig
	Horizontal TrackerConfig

	// Inbound sources
	ReplayLoop        bool
	UDPReadTimeoutMs  int
	SteamVRListenAddr string

	// Encoders
	EncoderI2CBus     string
	EncoderI2CAddr    uint16
	EncoderSerialPort string
	EncoderBaudRate   int
	EncoderRadius     float64

	// Simulated orbit
	MockRadius  float64
	MockTiltDeg float64
	MockStepDeg float64
	MockNoise   float64
	MockSeed    uint64

	// MQTT (disabled when MQTTBroker is empty)
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	// Calibration store
	StorePath string

	// Tools
	ViewerListenAddr      string
	WebServerPort         int
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds
	SimulatorSendAddr     string
}

// Default returns a configuration that runs two simulated trackers and
// sends to a viewer on localhost.
func Default() *Config {
	mock := source.DefaultMockOptions()
	return &Config{
		SendHz:             60,
		CalibrationSamples: calibration.DefaultThreshold,
		ReferenceAxis:      "y",
		UDPSendAddr:        "127.0.0.1:9000",

		Vertical:   TrackerConfig{Source: string(source.KindMock), Index: 1, ListenAddr: ":9001"},
		Horizontal: TrackerConfig{Source: string(source.KindMock), Index: 2, ListenAddr: ":9003"},

		ReplayLoop:        true,
		UDPReadTimeoutMs:  100,
		SteamVRListenAddr: fmt.Sprintf(":%d", source.DefaultSteamVRPort),

		EncoderI2CAddr:    source.AS5600DefaultAddr,
		EncoderSerialPort: "/dev/ttyUSB0",
		EncoderBaudRate:   source.DefaultSerialBaudRate,
		EncoderRadius:     source.DefaultEncoderRadius,

		MockRadius:  mock.Radius,
		MockTiltDeg: mock.TiltDeg,
		MockStepDeg: mock.StepDeg,
		MockNoise:   mock.NoiseStdDev,
		MockSeed:    mock.Seed,

		MQTTClientID:    "cycle-tracker",
		MQTTTopicPrefix: "cycle",

		StorePath: "./tracker_calibrations.db",

		ViewerListenAddr:      ":9000",
		WebServerPort:         8080,
		DisplayUpdateInterval: 200,
		SimulatorSendAddr:     "127.0.0.1:9001",
	}
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads a KEY=VALUE configuration file on top of Default. Blank lines
// and # comments are allowed. An empty path returns the defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// viper lowercases keys; sort for a stable first error.
	keys := v.AllKeys()
	sort.Strings(keys)
	for _, key := range keys {
		if err := cfg.setValue(strings.ToUpper(key), strings.TrimSpace(v.GetString(key))); err != nil {
			return nil, fmt.Errorf("config %s: %w", configPath, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return uint16(addr), nil
}

// setTracker handles the VERTICAL_* and HORIZONTAL_* keys.
func setTracker(t *TrackerConfig, key, field, value string) (bool, error) {
	var err error
	switch field {
	case "SOURCE":
		if _, err = source.ParseKind(value); err != nil {
			return true, fmt.Errorf("invalid %s: %w", key, err)
		}
		t.Source = strings.ToLower(value)
	case "SERIAL":
		t.Serial = value
	case "INDEX":
		t.Index, err = parseInt(key, value)
	case "REPLAY_FILE":
		t.ReplayFile = value
	case "LISTEN_ADDR":
		t.ListenAddr = value
	default:
		return false, nil
	}
	return true, err
}

// setValue sets a config field based on the key.
func (c *Config) setValue(key, value string) error {
	if field, ok := strings.CutPrefix(key, "VERTICAL_"); ok {
		if handled, err := setTracker(&c.Vertical, key, field, value); handled {
			return err
		}
	}
	if field, ok := strings.CutPrefix(key, "HORIZONTAL_"); ok {
		if handled, err := setTracker(&c.Horizontal, key, field, value); handled {
			return err
		}
	}

	var err error
	switch key {
	// Streaming
	case "SEND_HZ":
		c.SendHz, err = parseInt(key, value)
	case "CALIBRATION_SAMPLES":
		c.CalibrationSamples, err = parseInt(key, value)
	case "REFERENCE_AXIS":
		if _, err = calibration.ParseAxis(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		c.ReferenceAxis = strings.ToLower(value)
	case "PHASE_REVERSE":
		c.PhaseReverse, err = parseBool(key, value)
	case "PHASE_OFFSET_DEG":
		c.PhaseOffsetDeg, err = parseFloat(key, value)

	// Outbound UDP
	case "UDP_SEND_ADDR":
		c.UDPSendAddr = value

	// Inbound sources
	case "REPLAY_LOOP":
		c.ReplayLoop, err = parseBool(key, value)
	case "UDP_READ_TIMEOUT_MS":
		c.UDPReadTimeoutMs, err = parseInt(key, value)
	case "STEAMVR_LISTEN_ADDR":
		c.SteamVRListenAddr = value

	// Encoders
	case "ENCODER_I2C_BUS":
		c.EncoderI2CBus = value
	case "ENCODER_I2C_ADDR":
		c.EncoderI2CAddr, err = parseAddr(key, value)
	case "ENCODER_SERIAL_PORT":
		c.EncoderSerialPort = value
	case "ENCODER_BAUD_RATE":
		c.EncoderBaudRate, err = parseInt(key, value)
	case "ENCODER_RADIUS":
		c.EncoderRadius, err = parseFloat(key, value)

	// Simulated orbit
	case "MOCK_RADIUS":
		c.MockRadius, err = parseFloat(key, value)
	case "MOCK_TILT_DEG":
		c.MockTiltDeg, err = parseFloat(key, value)
	case "MOCK_STEP_DEG":
		c.MockStepDeg, err = parseFloat(key, value)
	case "MOCK_NOISE":
		c.MockNoise, err = parseFloat(key, value)
	case "MOCK_SEED":
		c.MockSeed, err = strconv.ParseUint(value, 0, 64)
		if err != nil {
			err = fmt.Errorf("invalid MOCK_SEED %q: %w", value, err)
		}

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_TOPIC_PREFIX":
		c.MQTTTopicPrefix = value

	// Store
	case "STORE_PATH":
		c.StorePath = value

	// Tools
	case "VIEWER_LISTEN_ADDR":
		c.ViewerListenAddr = value
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)
	case "SIMULATOR_SEND_ADDR":
		c.SimulatorSendAddr = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// validate checks ranges and required fields.
func (c *Config) validate() error {
	if c.SendHz <= 0 || c.SendHz > 1000 {
		return fmt.Errorf("SEND_HZ must be in 1..1000, got %d", c.SendHz)
	}
	if c.CalibrationSamples < calibration.MinThreshold {
		return fmt.Errorf("CALIBRATION_SAMPLES must be at least %d, got %d", calibration.MinThreshold, c.CalibrationSamples)
	}
	if c.UDPSendAddr == "" {
		return fmt.Errorf("UDP_SEND_ADDR is required")
	}
	if c.UDPReadTimeoutMs <= 0 {
		return fmt.Errorf("UDP_READ_TIMEOUT_MS must be positive, got %d", c.UDPReadTimeoutMs)
	}
	for name, t := range map[string]TrackerConfig{TrackerVertical: c.Vertical, TrackerHorizontal: c.Horizontal} {
		prefix := strings.ToUpper(name)
		if t.Source == string(source.KindReplay) && t.ReplayFile == "" {
			return fmt.Errorf("%s_REPLAY_FILE is required for a replay source", prefix)
		}
		if t.Source == string(source.KindUDP) && t.ListenAddr == "" {
			return fmt.Errorf("%s_LISTEN_ADDR is required for a udp source", prefix)
		}
	}
	if c.Vertical.Source == string(source.KindUDP) && c.Horizontal.Source == string(source.KindUDP) &&
		c.Vertical.ListenAddr == c.Horizontal.ListenAddr {
		return fmt.Errorf("VERTICAL_LISTEN_ADDR and HORIZONTAL_LISTEN_ADDR must differ")
	}
	if c.MQTTBroker != "" && c.MQTTTopicPrefix == "" {
		return fmt.Errorf("MQTT_TOPIC_PREFIX is required when MQTT_BROKER is set")
	}
	if c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive, got %d", c.DisplayUpdateInterval)
	}
	return nil
}

// Tracker returns the source settings of the named tracker.
func (c *Config) Tracker(name string) (TrackerConfig, bool) {
	switch name {
	case TrackerVertical:
		return c.Vertical, true
	case TrackerHorizontal:
		return c.Horizontal, true
	}
	return TrackerConfig{}, false
}

// SendInterval is the streaming loop period.
func (c *Config) SendInterval() time.Duration {
	return time.Second / time.Duration(c.SendHz)
}

// ReadTimeout is the UDP receive deadline.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.UDPReadTimeoutMs) * time.Millisecond
}

// InitGlobal loads the configuration once for the whole process.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration. InitGlobal must be called first,
// or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
