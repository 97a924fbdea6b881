package config

import "github.com/caarlos0/env/v11"

type DebateConfig struct {
	TurnBufferSeconds int    `env:"TURN_BUFFER_SECONDS" envDefault:"8"`
	DefaultLocale     string `env:"DEFAULT_LOCALE" envDefault:"en"`

	// SuppressRepeatedEvaluation skips the evaluation request when a debate
	// that already finished is finished again.
	SuppressRepeatedEvaluation bool `env:"SUPPRESS_REPEATED_EVALUATION" envDefault:"false"`
}

func LoadDebate() (DebateConfig, error) {
	var cfg DebateConfig
	err := env.Parse(&cfg)
	return cfg, err
}
