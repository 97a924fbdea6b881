package config

import "github.com/caarlos0/env/v11"

type SchedulerConfig struct {
	PollMS      int `env:"SCHEDULER_POLL_MS" envDefault:"500"`
	Batch       int `env:"SCHEDULER_BATCH" envDefault:"50"`
	RetryMax    int `env:"SCHEDULER_RETRY_MAX" envDefault:"5"`
	RetryBaseMS int `env:"SCHEDULER_RETRY_BASE_MS" envDefault:"1000"`
	LeaseMS     int `env:"SCHEDULER_LEASE_MS" envDefault:"60000"`
}

func LoadScheduler() (SchedulerConfig, error) {
	var cfg SchedulerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
