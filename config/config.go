package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/gommon/log"
	"strings"
	"sync"
	"time"
)

type Config struct {
	HttpPort       int      `envconfig:"HTTP_PORT" required:"true"`
	RedisAddr      string   `envconfig:"REDIS_ADDR" required:"true"`
	RedisPassword  string   `envconfig:"REDIS_PASSWORD" required:"false"`
	RedisDB        int      `envconfig:"REDIS_DB" required:"false" default:"0"`
	MaxWorkers     int      `envconfig:"MAX_WORKERS" required:"false" default:"10"`
	LogLevel       string   `envconfig:"LOG_LEVEL" required:"false" default:"info"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" required:"false" default:"*"`

	SessionIDLength    int  `envconfig:"SESSION_ID_LENGTH" required:"false" default:"6"`
	EnforceHostControl bool `envconfig:"ENFORCE_HOST_CONTROL" required:"false" default:"false"`

	LiveKitAPIKey    string        `envconfig:"LIVEKIT_API_KEY" required:"false"`
	LiveKitAPISecret string        `envconfig:"LIVEKIT_API_SECRET" required:"false"`
	LiveKitURL       string        `envconfig:"LIVEKIT_URL" required:"false"`
	LiveKitTokenTTL  time.Duration `envconfig:"LIVEKIT_TOKEN_TTL" required:"false" default:"6h"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" required:"false"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" required:"false" default:"gemini-2.0-flash"`
}

var (
	c    Config
	once sync.Once
)

// Get returns the process wide configuration, exiting if it is invalid
func Get() *Config {
	once.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Fatal(err)
		}
		c = *cfg
	})
	return &c
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Level maps LOG_LEVEL onto a gommon log level
func (c *Config) Level() log.Lvl {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
