package config

// LoggingConfig configures the host binary's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console

	// DebugMode gates the secondary category-gated file logger that writes
	// diagnostic logs under <home>/specs/<id>/context/log/ (see
	// internal/logging). False by default; zap already covers ordinary
	// operational logging.
	DebugMode bool `yaml:"debug_mode"`
}
