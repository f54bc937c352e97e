package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the fundbook server.
type Config struct {
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	Storage    Storage    `yaml:"storage"`
	Book       Book       `yaml:"book"`
	Settlement Settlement `yaml:"settlement"`
	Ledger     Ledger     `yaml:"ledger"`
	Notify     Notify     `yaml:"notify"`
	Identity   Identity   `yaml:"identity"`
}

// Server holds network listener configuration.
type Server struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Storage selects the order store backend and where durable state lives.
type Storage struct {
	Driver         string `yaml:"driver"` // pebble | sqlite | mysql | memory
	PebbleDir      string `yaml:"pebble_dir"`
	DSN            string `yaml:"dsn"`
	JournalDir     string `yaml:"journal_dir"`
	JournalSegment int64  `yaml:"journal_segment_bytes"`
	OutboxDir      string `yaml:"outbox_dir"`
	SnapshotDir    string `yaml:"snapshot_dir"`
}

// Book holds order lifecycle parameters.
type Book struct {
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	TokenDecimals    int32         `yaml:"token_decimals"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// Settlement controls how matched pairs reach the ledger.
type Settlement struct {
	Mode          string        `yaml:"mode"` // sync | async
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxRetries    uint32        `yaml:"max_retries"`
}

// Ledger configures the settlement and liquidity pool gateways.
type Ledger struct {
	Driver  string        `yaml:"driver"` // http | simulator
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// Notify selects the sink that outbound order events are published to.
type Notify struct {
	Driver       string        `yaml:"driver"` // log | sarama | kafka | nats
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	NATSURL      string        `yaml:"nats_url"`
	Subject      string        `yaml:"subject"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Identity maps authenticated caller ids to their custodial wallets.
type Identity struct {
	Wallets map[string]string `yaml:"wallets"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a .env file beside the YAML (if present), parses the YAML,
// applies FUNDBOOK_* environment overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "load %s", envPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration usable without a file: in-memory store,
// simulated ledger and a log sink.
func Default() *Config {
	cfg := &Config{}
	cfg.Storage.Driver = "memory"
	cfg.Ledger.Driver = "simulator"
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.HTTPAddr, ":8080")
	setString(&c.Server.GRPCAddr, ":9090")

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")

	setString(&c.Storage.Driver, "pebble")
	setString(&c.Storage.PebbleDir, "./data/orders")
	setString(&c.Storage.JournalDir, "./data/journal")
	setString(&c.Storage.OutboxDir, "./data/outbox")
	setString(&c.Storage.SnapshotDir, "./data/snapshots")
	if c.Storage.JournalSegment == 0 {
		c.Storage.JournalSegment = 4 << 20
	}

	setDuration(&c.Book.DefaultTTL, time.Hour)
	setDuration(&c.Book.SweepInterval, 60*time.Second)
	setDuration(&c.Book.SnapshotInterval, 5*time.Minute)

	setString(&c.Settlement.Mode, "sync")
	if c.Settlement.MaxAttempts == 0 {
		c.Settlement.MaxAttempts = 3
	}
	setDuration(&c.Settlement.BaseDelay, 200*time.Millisecond)
	setDuration(&c.Settlement.RetryInterval, 5*time.Second)
	if c.Settlement.MaxRetries == 0 {
		c.Settlement.MaxRetries = 10
	}

	setString(&c.Ledger.Driver, "simulator")
	setDuration(&c.Ledger.Timeout, 10*time.Second)

	setString(&c.Notify.Driver, "log")
	setString(&c.Notify.Topic, "fundbook.orders")
	setString(&c.Notify.Subject, "fundbook.orders")
	setDuration(&c.Notify.PollInterval, 250*time.Millisecond)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "pebble", "memory":
	case "sqlite", "mysql":
		if c.Storage.DSN == "" {
			return errors.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		return errors.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Book.DefaultTTL <= 0 {
		return errors.New("book.default_ttl must be positive")
	}
	if c.Book.SweepInterval <= 0 {
		return errors.New("book.sweep_interval must be positive")
	}
	if c.Book.TokenDecimals < 0 || c.Book.TokenDecimals > 36 {
		return errors.Errorf("book.token_decimals %d out of range", c.Book.TokenDecimals)
	}

	switch c.Settlement.Mode {
	case "sync", "async":
	default:
		return errors.Errorf("unknown settlement.mode %q", c.Settlement.Mode)
	}

	switch c.Ledger.Driver {
	case "simulator":
	case "http":
		if c.Ledger.BaseURL == "" {
			return errors.New("ledger.base_url is required for the http driver")
		}
	default:
		return errors.Errorf("unknown ledger.driver %q", c.Ledger.Driver)
	}

	switch c.Notify.Driver {
	case "log":
	case "sarama", "kafka":
		if len(c.Notify.Brokers) == 0 {
			return errors.Errorf("notify.brokers is required for driver %q", c.Notify.Driver)
		}
	case "nats":
		if c.Notify.NATSURL == "" {
			return errors.New("notify.nats_url is required for the nats driver")
		}
	default:
		return errors.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	envString("FUNDBOOK_HTTP_ADDR", &cfg.Server.HTTPAddr)
	envString("FUNDBOOK_GRPC_ADDR", &cfg.Server.GRPCAddr)
	envString("FUNDBOOK_LOG_LEVEL", &cfg.Logging.Level)
	envString("FUNDBOOK_STORAGE_DRIVER", &cfg.Storage.Driver)
	envString("FUNDBOOK_STORAGE_DSN", &cfg.Storage.DSN)
	envString("FUNDBOOK_SETTLEMENT_MODE", &cfg.Settlement.Mode)
	envString("FUNDBOOK_LEDGER_URL", &cfg.Ledger.BaseURL)
	envString("FUNDBOOK_NOTIFY_DRIVER", &cfg.Notify.Driver)
	envString("FUNDBOOK_NATS_URL", &cfg.Notify.NATSURL)

	// secrets only ever come from the environment
	cfg.Ledger.APIKey = os.Getenv("FUNDBOOK_LEDGER_API_KEY")

	if v := os.Getenv("FUNDBOOK_KAFKA_BROKERS"); v != "" {
		cfg.Notify.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FUNDBOOK_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "FUNDBOOK_SWEEP_INTERVAL")
		}
		cfg.Book.SweepInterval = d
	}
	if v := os.Getenv("FUNDBOOK_TOKEN_DECIMALS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return errors.Wrap(err, "FUNDBOOK_TOKEN_DECIMALS")
		}
		cfg.Book.TokenDecimals = int32(n)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}
