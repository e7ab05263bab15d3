package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "checkscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "CHECKSCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags
// bound by the root command take part.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on v.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the configuration from the search paths, the environment and
// the defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithoutValidation is Load without Validate.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.LoadWithFileWithoutValidation("")
}

// LoadWithFile loads configuration from configFile, or from the search
// paths when configFile is empty.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation is LoadWithFile without Validate.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and environment only.
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that AutomaticEnv can see it during
// Unmarshal. Durations are registered as strings to keep them readable in
// `config show`.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("checkin.endpoint", d.Checkin.Endpoint)
	l.v.SetDefault("checkin.token", d.Checkin.Token)
	l.v.SetDefault("checkin.event_id", d.Checkin.EventID)
	l.v.SetDefault("checkin.timeout_sec", d.Checkin.TimeoutSec)

	l.v.SetDefault("session.processing_delay", d.Session.ProcessingDelay.String())
	l.v.SetDefault("session.dwell.camera_success", d.Session.Dwell.CameraSuccess.String())
	l.v.SetDefault("session.dwell.camera_failure", d.Session.Dwell.CameraFailure.String())
	l.v.SetDefault("session.dwell.file_success", d.Session.Dwell.FileSuccess.String())
	l.v.SetDefault("session.dwell.file_failure", d.Session.Dwell.FileFailure.String())
	l.v.SetDefault("session.dwell.file_hint", d.Session.Dwell.FileHint.String())

	l.v.SetDefault("capture.frame_rate", d.Capture.FrameRate)
	l.v.SetDefault("capture.region_size", d.Capture.RegionSize)
	l.v.SetDefault("capture.facing", d.Capture.Facing)
	l.v.SetDefault("capture.ready_timeout", d.Capture.ReadyTimeout.String())

	l.v.SetDefault("decode.try_harder", d.Decode.TryHarder)
	l.v.SetDefault("decode.formats", d.Decode.Formats)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	l.v.SetDefault("server.uploads_per_minute", d.Server.UploadsPerMinute)
	l.v.SetDefault("server.upload_burst", d.Server.UploadBurst)
}

// GetResolvedConfig returns the merged settings, with secrets masked.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	all := l.v.AllSettings()
	if ci, ok := all["checkin"].(map[string]interface{}); ok {
		if tok, ok := ci["token"].(string); ok && tok != "" {
			ci["token"] = "********"
		}
	}
	return all
}

// ResolvedYAML renders GetResolvedConfig as YAML.
func (l *Loader) ResolvedYAML() ([]byte, error) {
	return yaml.Marshal(l.GetResolvedConfig())
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes the defaults to filename, checkscan.yaml
// when empty.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	return append(paths, "/etc/"+ConfigFileName)
}
