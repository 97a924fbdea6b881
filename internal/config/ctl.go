package config

import "github.com/caarlos0/env/v11"

// CtlConfig configures the debatectl operator tool.
type CtlConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	Pretty      bool   `env:"CTL_PRETTY" envDefault:"true"`
}

func LoadCtl() (CtlConfig, error) {
	var cfg CtlConfig
	err := env.Parse(&cfg)
	return cfg, err
}
