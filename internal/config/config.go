package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker backends for the relay channel fabric.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerAMQP   = "amqp"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
		// PublicURL is where players open the client; encoded into room QR codes.
		PublicURL      string   `yaml:"public_url"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// RoomTTL bounds how long a room counter survives without activity.
		RoomTTL string `yaml:"room_ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL     string `yaml:"url"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"postgres"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Broker struct {
		Backend string `yaml:"backend"`
		Buffer  int    `yaml:"buffer"`
	} `yaml:"broker"`
	Auth struct {
		Secret   string `yaml:"secret"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	GenAI struct {
		APIKey     string `yaml:"api_key"`
		TextModel  string `yaml:"text_model"`
		ImageModel string `yaml:"image_model"`
		Images     bool   `yaml:"images"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"genai"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Game struct {
		Rounds     int    `yaml:"rounds"`
		Difficulty string `yaml:"difficulty"`
		Mode       string `yaml:"mode"`
		Topic      string `yaml:"topic"`
	} `yaml:"game"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads YAML config from path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg.applyDefaults()
		return cfg, nil
	case err != nil:
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://localhost:8080"
	}
	if c.Broker.Backend == "" {
		c.Broker.Backend = BrokerMemory
	}
	if c.Broker.Buffer <= 0 {
		c.Broker.Buffer = 64
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "quizsquad.channels"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate normalises the broker backend name and checks cross-section
// requirements. Call it after env overrides.
func (c *Config) Validate() error {
	c.Broker.Backend = strings.ToLower(strings.TrimSpace(c.Broker.Backend))
	switch c.Broker.Backend {
	case BrokerMemory:
	case BrokerRedis:
		if c.Redis.Addr == "" {
			return errors.New("broker redis needs redis.addr")
		}
	case BrokerAMQP:
		if c.AMQP.URL == "" {
			return errors.New("broker amqp needs amqp.url")
		}
	default:
		return fmt.Errorf("unknown broker backend %q", c.Broker.Backend)
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
