package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	TransportMQTT  = "mqtt"
	TransportRelay = "relay"
)

const (
	// PolicyTeardown closes the session when the device goes quiet.
	PolicyTeardown = "teardown"
	// PolicyFlagOffline only demotes the device and keeps the link open.
	PolicyFlagOffline = "flag-offline"
)

type Config struct {
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
	Transport        string        `env:"TRANSPORT" envDefault:"mqtt"`
	BrokerURL        string        `env:"BROKER_URL"`
	BrokerUsername   string        `env:"BROKER_USER"`
	BrokerPassword   string        `env:"BROKER_PASS"`
	ClientName       string        `env:"CLIENT_NAME" envDefault:"Smart Canopy web client"`
	DirectoryURL     string        `env:"DIRECTORY_URL"`
	DirectoryRefresh string        `env:"DIRECTORY_REFRESH" envDefault:"@every 1m"`
	Devices          []string      `env:"DEVICES" envSeparator:","`
	Session          SessionConfig `envPrefix:"SESSION_"`
}

// SessionConfig tunes the session controller. Zero durations and an empty
// policy are filled from the transport profile by Normalize.
type SessionConfig struct {
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	StalenessWindow time.Duration `env:"STALENESS_WINDOW"`
	PollInterval    time.Duration `env:"POLL_INTERVAL"`
	StalenessPolicy string        `env:"STALENESS_POLICY"`
	ErrorDisplay    time.Duration `env:"ERROR_DISPLAY" envDefault:"5s"`
	AutoReconnect   bool          `env:"AUTO_RECONNECT" envDefault:"false"`
	ReconnectDelay  time.Duration `env:"RECONNECT_DELAY" envDefault:"3s"`
	RetryCooldown   time.Duration `env:"RETRY_COOLDOWN" envDefault:"3s"`
	TopicPrefix     string        `env:"TOPIC_PREFIX" envDefault:"devices"`
}

type Profile struct {
	StalenessWindow time.Duration
	PollInterval    time.Duration
	StalenessPolicy string
}

var profiles = map[string]Profile{
	// direct single broker: heartbeat timeout
	TransportMQTT: {
		StalenessWindow: 30 * time.Second,
		PollInterval:    2 * time.Second,
		StalenessPolicy: PolicyTeardown,
	},
	// relayed, multi-hop: telemetry watchdog
	TransportRelay: {
		StalenessWindow: 120 * time.Second,
		PollInterval:    time.Second,
		StalenessPolicy: PolicyFlagOffline,
	},
}

var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrUnknownPolicy    = errors.New("unknown staleness policy")
)

func ProfileFor(transport string) (Profile, error) {
	p, ok := profiles[transport]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
	}
	return p, nil
}

// Load reads .env files (the default .env is optional, named files are not)
// and parses the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("loading env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}
	return Parse(env.Options{})
}

func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// DefaultSession returns the normalized session settings for a transport.
func DefaultSession(transport string) (SessionConfig, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return SessionConfig{}, err
	}
	return cfg.Session.Normalize(transport)
}

func (c SessionConfig) Normalize(transport string) (SessionConfig, error) {
	p, err := ProfileFor(transport)
	if err != nil {
		return c, err
	}
	if c.StalenessWindow == 0 {
		c.StalenessWindow = p.StalenessWindow
	}
	if c.PollInterval == 0 {
		c.PollInterval = p.PollInterval
	}
	if c.StalenessPolicy == "" {
		c.StalenessPolicy = p.StalenessPolicy
	}
	return c, nil
}

func (c SessionConfig) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"connect timeout":  c.ConnectTimeout,
		"staleness window": c.StalenessWindow,
		"poll interval":    c.PollInterval,
		"error display":    c.ErrorDisplay,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ReconnectDelay < 0 || c.RetryCooldown < 0 {
		errs = append(errs, errors.New("reconnect delay and retry cooldown must not be negative"))
	}
	if c.PollInterval > c.StalenessWindow && c.StalenessWindow > 0 {
		errs = append(errs, fmt.Errorf("poll interval %s exceeds staleness window %s", c.PollInterval, c.StalenessWindow))
	}
	switch c.StalenessPolicy {
	case PolicyTeardown, PolicyFlagOffline:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownPolicy, c.StalenessPolicy))
	}
	if c.TopicPrefix == "" {
		errs = append(errs, errors.New("topic prefix must not be empty"))
	}
	return errors.Join(errs...)
}

// Normalize fills profile defaults and validates the whole configuration.
func (c *Config) Normalize() error {
	s, err := c.Session.Normalize(c.Transport)
	if err != nil {
		return err
	}
	c.Session = s
	return c.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := ProfileFor(c.Transport); err != nil {
		errs = append(errs, err)
	}
	if c.BrokerURL == "" {
		errs = append(errs, errors.New("broker url is required"))
	}
	if c.DirectoryURL == "" && len(c.Devices) == 0 {
		errs = append(errs, errors.New("either a directory url or a static device list is required"))
	}
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
