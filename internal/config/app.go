package config

type AppConfig struct {
	Server     ServerConfig
	Log        LogConfig
	Debate     DebateConfig
	Connection ConnectionConfig
	Scheduler  SchedulerConfig
}

func LoadApp() (AppConfig, error) {
	logCfg, err := LoadLog()
	if err != nil {
		return AppConfig{}, err
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return AppConfig{}, err
	}
	debateCfg, err := LoadDebate()
	if err != nil {
		return AppConfig{}, err
	}
	connCfg, err := LoadConnection()
	if err != nil {
		return AppConfig{}, err
	}
	schedCfg, err := LoadScheduler()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server:     serverCfg,
		Log:        logCfg,
		Debate:     debateCfg,
		Connection: connCfg,
		Scheduler:  schedCfg,
	}, nil
}
