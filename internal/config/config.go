package config

type Config struct {
	Server  ServerConfig
	Parse   ParseConfig
	Jobs    JobsConfig
	Storage StorageConfig
	Webhook WebhookConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type ParseConfig struct {
	MaxFileBytes   int
	MaxFiles       int
	MaxPages       int
	DefaultLang    string
	DefaultBackend string
	VLMServerURL   string
	MLXBaseURL     string
}

type JobsConfig struct {
	MaxConcurrent int
}

type StorageConfig struct {
	DataDir                string
	OutputTTLHours         int
	CleanupIntervalMinutes int
}

type WebhookConfig struct {
	TimeoutSeconds int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8488,
		},
		Parse: ParseConfig{
			MaxFileBytes:   50 * 1024 * 1024,
			MaxFiles:       5,
			MaxPages:       50,
			DefaultLang:    "ch",
			DefaultBackend: "pipeline",
			MLXBaseURL:     "http://127.0.0.1:8720",
		},
		Jobs: JobsConfig{
			MaxConcurrent: 5,
		},
		Storage: StorageConfig{
			DataDir:                defaultDataDir(),
			OutputTTLHours:         24,
			CleanupIntervalMinutes: 60,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/docmill/config.json and applies DOCMILL_* environment
// variable overrides on top.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
