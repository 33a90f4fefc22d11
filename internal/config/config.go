package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/pkg/lora"
)

// Config holds the node configuration.
type Config struct {
	NodeID   string      `yaml:"node_id"`
	Radio    RadioConfig `yaml:"radio"`
	Link     LinkConfig  `yaml:"link"`
	Sync     SyncConfig  `yaml:"sync"`
	Database string      `yaml:"database"`
	HTTP     HTTPConfig  `yaml:"http"`
	Log      LogConfig   `yaml:"log"`
	MQTT     MQTTConfig  `yaml:"mqtt"`
}

type RadioConfig struct {
	// URL selects the radio driver: stub://, serial:///dev/ttyUSB0, mqtt://host:1883 or udp://group:port.
	URL    string `yaml:"url"`
	Preset string `yaml:"preset"`
}

type LinkConfig struct {
	MTU               int           `yaml:"mtu"`
	ChunkDelay        time.Duration `yaml:"chunk_delay"`
	TxTimeout         time.Duration `yaml:"tx_timeout"`
	RxPoll            time.Duration `yaml:"rx_poll"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ReassemblyTimeout time.Duration `yaml:"reassembly_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	OutboxSize        int           `yaml:"outbox_size"`
}

type SyncConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RoundTimeout     time.Duration `yaml:"round_timeout"`
	Rounds           int           `yaml:"rounds"`
	ChunkSize        int           `yaml:"chunk_size"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MQTTConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	RootTopic string `yaml:"root_topic"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		NodeID: "node",
		Radio: RadioConfig{
			URL:    "stub://",
			Preset: lora.DefaultPreset.Name,
		},
		Link: LinkConfig{
			MTU:               lora.DefaultMTU,
			ChunkDelay:        lora.DefaultChunkDelay,
			TxTimeout:         lora.DefaultTxTimeout,
			RxPoll:            lora.DefaultRxPoll,
			PollInterval:      lora.DefaultPollInterval,
			ReassemblyTimeout: lora.DefaultReassemblyTimeout,
			SweepInterval:     lora.DefaultSweepInterval,
			OutboxSize:        lora.DefaultOutboxSize,
		},
		Sync: SyncConfig{
			HandshakeTimeout: lora.DefaultHandshakeTimeout,
			RoundTimeout:     lora.DefaultSyncRoundTimeout,
			Rounds:           lora.DefaultSyncRounds,
			ChunkSize:        lora.DefaultSyncChunkSize,
		},
		Database: "hde.db",
		HTTP:     HTTPConfig{Listen: ":5000"},
		Log:      LogConfig{Level: "info", Format: "text"},
		MQTT:     MQTTConfig{RootTopic: "hde"},
	}
}

// DefaultPath returns the default config file path: ~/.hde/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".hde", "config.yaml")
	}
	return filepath.Join(home, ".hde", "config.yaml")
}

// Load reads the configuration from the given YAML file path, then applies overrides from the environment
// and from a .env file in the working directory. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.NodeID = getEnv("HDE_NODE_ID", c.NodeID)
	c.Radio.URL = getEnv("HDE_RADIO_URL", c.Radio.URL)
	c.Radio.Preset = getEnv("HDE_RADIO_PRESET", c.Radio.Preset)
	c.Database = getEnv("HDE_DATABASE", c.Database)
	c.HTTP.Listen = getEnv("HDE_HTTP_LISTEN", c.HTTP.Listen)
	c.Log.Level = getEnv("HDE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("HDE_LOG_FORMAT", c.Log.Format)
	c.MQTT.Username = getEnv("HDE_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("HDE_MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.RootTopic = getEnv("HDE_MQTT_ROOT_TOPIC", c.MQTT.RootTopic)

	ints := []struct {
		key string
		dst *int
	}{
		{"HDE_MTU", &c.Link.MTU},
		{"HDE_OUTBOX_SIZE", &c.Link.OutboxSize},
		{"HDE_SYNC_ROUNDS", &c.Sync.Rounds},
		{"HDE_SYNC_CHUNK_SIZE", &c.Sync.ChunkSize},
	}
	for _, v := range ints {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", v.key, err)
		}
		*v.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HDE_CHUNK_DELAY", &c.Link.ChunkDelay},
		{"HDE_TX_TIMEOUT", &c.Link.TxTimeout},
		{"HDE_RX_POLL", &c.Link.RxPoll},
		{"HDE_REASSEMBLY_TIMEOUT", &c.Link.ReassemblyTimeout},
		{"HDE_SWEEP_INTERVAL", &c.Link.SweepInterval},
		{"HDE_HANDSHAKE_TIMEOUT", &c.Sync.HandshakeTimeout},
		{"HDE_SYNC_ROUND_TIMEOUT", &c.Sync.RoundTimeout},
	}
	for _, v := range durations {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", v.key, err)
		}
		*v.dst = d
	}
	return nil
}

// Validate checks the values a node cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.NodeID == "" || len(c.NodeID) > lora.MaxNodeIDLength {
		errs = append(errs, fmt.Errorf("node_id must be 1 to %d bytes, got %q", lora.MaxNodeIDLength, c.NodeID))
	}
	if c.Link.MTU < lora.MinMTU || c.Link.MTU > lora.MaxMTU {
		errs = append(errs, fmt.Errorf("link.mtu must be within %d..%d, got %d", lora.MinMTU, lora.MaxMTU, c.Link.MTU))
	}
	if c.Radio.URL == "" {
		errs = append(errs, errors.New("radio.url is required"))
	}
	if _, ok := lora.PresetByName(c.Radio.Preset); !ok {
		errs = append(errs, fmt.Errorf("unknown radio.preset %q", c.Radio.Preset))
	}
	if c.Sync.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("sync.chunk_size must be positive, got %d", c.Sync.ChunkSize))
	}
	return errors.Join(errs...)
}

// NodeOptions converts the link and sync settings for lora.NewNode.
func (c *Config) NodeOptions(logger log.Logger) lora.NodeOptions {
	return lora.NodeOptions{
		MTU:               c.Link.MTU,
		ChunkDelay:        c.Link.ChunkDelay,
		TxTimeout:         c.Link.TxTimeout,
		RxPoll:            c.Link.RxPoll,
		ReassemblyTimeout: c.Link.ReassemblyTimeout,
		SweepInterval:     c.Link.SweepInterval,
		SyncRoundTimeout:  c.Sync.RoundTimeout,
		SyncRounds:        c.Sync.Rounds,
		SyncChunkSize:     c.Sync.ChunkSize,
		OutboxSize:        c.Link.OutboxSize,
		Logger:            logger,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
