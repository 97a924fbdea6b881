package config

import "github.com/caarlos0/env/v11"

type ConnectionConfig struct {
	RoomGraceSeconds   int `env:"ROOM_GRACE_SECONDS" envDefault:"30"`
	DebateGraceSeconds int `env:"DEBATE_GRACE_SECONDS" envDefault:"60"`
	MaxGraceSeconds    int `env:"GRACE_MAX_SECONDS" envDefault:"300"`

	AnalysisWindowHours int     `env:"GRACE_ANALYSIS_WINDOW_HOURS" envDefault:"24"`
	ExtensionFactor     float64 `env:"GRACE_EXTENSION_FACTOR" envDefault:"1.0"`
	FrequentThreshold   float64 `env:"GRACE_FREQUENT_THRESHOLD" envDefault:"0.5"`
	MinDisconnections   int     `env:"GRACE_MIN_DISCONNECTIONS" envDefault:"3"`
}

func LoadConnection() (ConnectionConfig, error) {
	var cfg ConnectionConfig
	err := env.Parse(&cfg)
	return cfg, err
}
