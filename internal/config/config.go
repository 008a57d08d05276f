package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "copyauction.yml"

// Config models copyauction.yml.
type Config struct {
	Ledger     Ledger     `yaml:"ledger"`
	Projection Projection `yaml:"projection"`
	Reconcile  Reconcile  `yaml:"reconcile"`
	Notify     Notify     `yaml:"notify"`
	Server     Server     `yaml:"server"`
}

type Ledger struct {
	// Driver is "http" for a WeBASE-Front endpoint or "memory" for the
	// in-process contract.
	Driver          string `yaml:"driver"`
	URL             string `yaml:"url"`
	ContractAddress string `yaml:"contract_address"`
	GroupID         string `yaml:"group_id"`
	ABIFile         string `yaml:"abi_file"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	SuccessStatus   string `yaml:"success_status"`
}

type Projection struct {
	CASMaxAttempts    int `yaml:"cas_max_attempts"`
	BusyTimeoutMillis int `yaml:"busy_timeout_ms"`
}

type Reconcile struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	Batch           int `yaml:"batch"`
	ScanWindow      int `yaml:"scan_window"`
	GraceSeconds    int `yaml:"grace_seconds"`
}

type Notify struct {
	WebSocketPath string `yaml:"websocket_path"`
	AMQPURL       string `yaml:"amqp_url"`
	AMQPExchange  string `yaml:"amqp_exchange"`
	// Webhooks receive the audit event feed as JSON POSTs.
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

func (w Webhook) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

type Server struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

func (l Ledger) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func (r Reconcile) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (r Reconcile) Grace() time.Duration {
	return time.Duration(r.GraceSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cpa config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case "memory":
	case "http":
		if strings.TrimSpace(c.Ledger.URL) == "" {
			return fmt.Errorf("config.ledger.url is required for the http driver")
		}
		if strings.TrimSpace(c.Ledger.ContractAddress) == "" {
			return fmt.Errorf("config.ledger.contract_address is required for the http driver")
		}
	default:
		return fmt.Errorf("config.ledger.driver must be 'http' or 'memory', got %q", c.Ledger.Driver)
	}
	if c.Ledger.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.ledger.timeout_seconds must be positive")
	}
	if c.Projection.CASMaxAttempts <= 0 {
		return fmt.Errorf("config.projection.cas_max_attempts must be positive")
	}
	if c.Projection.BusyTimeoutMillis < 0 {
		return fmt.Errorf("config.projection.busy_timeout_ms must not be negative")
	}
	if c.Reconcile.IntervalSeconds < 0 {
		return fmt.Errorf("config.reconcile.interval_seconds must not be negative")
	}
	if c.Reconcile.Batch <= 0 {
		return fmt.Errorf("config.reconcile.batch must be positive")
	}
	if c.Reconcile.ScanWindow <= 0 {
		return fmt.Errorf("config.reconcile.scan_window must be positive")
	}
	if c.Reconcile.GraceSeconds < 0 {
		return fmt.Errorf("config.reconcile.grace_seconds must not be negative")
	}
	if c.Ledger.Driver == "http" && c.Reconcile.GraceSeconds <= c.Ledger.TimeoutSeconds {
		return fmt.Errorf("config.reconcile.grace_seconds must exceed config.ledger.timeout_seconds")
	}
	if c.Notify.WebSocketPath != "" && !strings.HasPrefix(c.Notify.WebSocketPath, "/") {
		return fmt.Errorf("config.notify.websocket_path must start with /")
	}
	if c.Notify.AMQPURL != "" && c.Notify.AMQPExchange == "" {
		return fmt.Errorf("config.notify.amqp_exchange is required when amqp_url is set")
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notify.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `ledger:
  # http talks to a WeBASE-Front trans/handle endpoint; memory runs the
  # contract in-process for local use.
  driver: memory
  url: ""
  contract_address: ""
  group_id: "1"
  abi_file: ""
  timeout_seconds: 30
  success_status: "0x0"

projection:
  cas_max_attempts: 8
  busy_timeout_ms: 5000

reconcile:
  interval_seconds: 30
  batch: 50
  scan_window: 64
  grace_seconds: 60

notify:
  websocket_path: /ws/auctions
  amqp_url: ""
  amqp_exchange: auctions
  # webhooks:
  #   - url: https://example.org/hooks/auctions
  #     events: [auction.started, bid.placed, auction.ended]
  #     secret: ""
  #     timeout_seconds: 5
  webhooks: []

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
