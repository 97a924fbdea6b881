package config

import "github.com/caarlos0/env/v11"

// ServerConfig holds process-level settings. An empty PostgresDSN selects the
// in-memory store.
type ServerConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	AIServiceURL       string `env:"AI_SERVICE_URL"`
	AIRequestTimeoutMS int    `env:"AI_REQUEST_TIMEOUT_MS" envDefault:"30000"`

	EventBufferSize int  `env:"EVENT_BUFFER_SIZE" envDefault:"500"`
	AllowAnyOrigin  bool `env:"WS_ALLOW_ANY_ORIGIN" envDefault:"false"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
