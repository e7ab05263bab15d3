//nolint:lll
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/barcode"
	"github.com/MeKo-Tech/checkscan/internal/capture"
	"github.com/MeKo-Tech/checkscan/internal/session"
)

// Config is the complete configuration of checkscan. It is loaded from a
// configuration file, CHECKSCAN_* environment variables and command-line
// flags, in increasing order of precedence.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Checkin CheckinConfig `mapstructure:"checkin" yaml:"checkin" json:"checkin"`
	Session SessionConfig `mapstructure:"session" yaml:"session" json:"session"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture" json:"capture"`
	Decode  DecodeConfig  `mapstructure:"decode" yaml:"decode" json:"decode"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
}

// CheckinConfig points at the check-in backend.
type CheckinConfig struct {
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Token      string `mapstructure:"token" yaml:"token" json:"-"`
	EventID    string `mapstructure:"event_id" yaml:"event_id" json:"event_id"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// SessionConfig holds the pacing of a scan session.
type SessionConfig struct {
	ProcessingDelay time.Duration `mapstructure:"processing_delay" yaml:"processing_delay" json:"processing_delay"`
	Dwell           DwellConfig   `mapstructure:"dwell" yaml:"dwell" json:"dwell"`
}

// DwellConfig holds how long each kind of result stays on screen.
type DwellConfig struct {
	CameraSuccess time.Duration `mapstructure:"camera_success" yaml:"camera_success" json:"camera_success"`
	CameraFailure time.Duration `mapstructure:"camera_failure" yaml:"camera_failure" json:"camera_failure"`
	FileSuccess   time.Duration `mapstructure:"file_success" yaml:"file_success" json:"file_success"`
	FileFailure   time.Duration `mapstructure:"file_failure" yaml:"file_failure" json:"file_failure"`
	FileHint      time.Duration `mapstructure:"file_hint" yaml:"file_hint" json:"file_hint"`
}

// CaptureConfig holds the camera request.
type CaptureConfig struct {
	FrameRate    int           `mapstructure:"frame_rate" yaml:"frame_rate" json:"frame_rate"`
	RegionSize   int           `mapstructure:"region_size" yaml:"region_size" json:"region_size"`
	Facing       string        `mapstructure:"facing" yaml:"facing" json:"facing"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout" json:"ready_timeout"`
}

// DecodeConfig tunes the decode primitive.
type DecodeConfig struct {
	TryHarder bool     `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
	Formats   []string `mapstructure:"formats" yaml:"formats" json:"formats"`
}

// ServerConfig holds the HTTP/WebSocket shell settings.
type ServerConfig struct {
	Host             string        `mapstructure:"host" yaml:"host" json:"host"`
	Port             int           `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin       string        `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB      int           `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	UploadsPerMinute int           `mapstructure:"uploads_per_minute" yaml:"uploads_per_minute" json:"uploads_per_minute"`
	UploadBurst      int           `mapstructure:"upload_burst" yaml:"upload_burst" json:"upload_burst"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	timings := session.DefaultTimings()
	settings := capture.DefaultSettings()
	return Config{
		LogLevel: "info",
		Checkin: CheckinConfig{
			TimeoutSec: 0,
		},
		Session: SessionConfig{
			ProcessingDelay: timings.ProcessingDelay,
			Dwell: DwellConfig{
				CameraSuccess: timings.CameraSuccessDwell,
				CameraFailure: timings.CameraFailureDwell,
				FileSuccess:   timings.FileSuccessDwell,
				FileFailure:   timings.FileFailureDwell,
				FileHint:      timings.FileHintDwell,
			},
		},
		Capture: CaptureConfig{
			FrameRate:    settings.FrameRate,
			RegionSize:   settings.RegionWidth,
			Facing:       string(settings.Facing),
			ReadyTimeout: 10 * time.Second,
		},
		Decode: DecodeConfig{
			TryHarder: true,
			Formats:   []string{"qr"},
		},
		Server: ServerConfig{
			Host:             "localhost",
			Port:             8080,
			CORSOrigin:       "*",
			MaxUploadMB:      20,
			ShutdownTimeout:  10 * time.Second,
			UploadsPerMinute: 30,
			UploadBurst:      5,
		},
	}
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks value ranges. The check-in endpoint may be empty; commands
// that submit call RequireCheckin.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Checkin.Endpoint != "" {
		if err := validateEndpoint(c.Checkin.Endpoint); err != nil {
			return err
		}
	}
	if c.Checkin.TimeoutSec < 0 {
		return fmt.Errorf("invalid check-in timeout: %d (must not be negative)", c.Checkin.TimeoutSec)
	}

	durations := map[string]time.Duration{
		"session.processing_delay":     c.Session.ProcessingDelay,
		"session.dwell.camera_success": c.Session.Dwell.CameraSuccess,
		"session.dwell.camera_failure": c.Session.Dwell.CameraFailure,
		"session.dwell.file_success":   c.Session.Dwell.FileSuccess,
		"session.dwell.file_failure":   c.Session.Dwell.FileFailure,
		"session.dwell.file_hint":      c.Session.Dwell.FileHint,
		"capture.ready_timeout":        c.Capture.ReadyTimeout,
		"server.shutdown_timeout":      c.Server.ShutdownTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("invalid %s: %s (must not be negative)", name, d)
		}
	}

	if c.Capture.FrameRate < 1 || c.Capture.FrameRate > 60 {
		return fmt.Errorf("invalid capture frame rate: %d (must be between 1 and 60)", c.Capture.FrameRate)
	}
	if c.Capture.RegionSize < 0 {
		return fmt.Errorf("invalid capture region size: %d (must not be negative)", c.Capture.RegionSize)
	}
	if f := capture.Facing(c.Capture.Facing); f != capture.FacingRear && f != capture.FacingFront {
		return fmt.Errorf("invalid capture facing: %s (must be one of: %s, %s)", c.Capture.Facing, capture.FacingRear, capture.FacingFront)
	}

	for _, name := range c.Decode.Formats {
		if _, ok := barcode.ParseFormat(name); !ok {
			return fmt.Errorf("invalid decode format: %s", name)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.UploadsPerMinute < 0 {
		return fmt.Errorf("invalid uploads per minute: %d (must not be negative)", c.Server.UploadsPerMinute)
	}
	if c.Server.UploadsPerMinute > 0 && c.Server.UploadBurst < 1 {
		return fmt.Errorf("invalid upload burst: %d (must be positive when rate limiting)", c.Server.UploadBurst)
	}
	return nil
}

// RequireCheckin reports whether submissions can be made.
func (c *Config) RequireCheckin() error {
	if c.Checkin.Endpoint == "" {
		return fmt.Errorf("check-in endpoint is not configured (set checkin.endpoint or %s_CHECKIN_ENDPOINT)", EnvPrefix)
	}
	if c.Checkin.EventID == "" {
		return fmt.Errorf("event id is not configured (set checkin.event_id or %s_CHECKIN_EVENT_ID)", EnvPrefix)
	}
	return validateEndpoint(c.Checkin.Endpoint)
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid check-in endpoint: %s (must be an absolute http(s) URL)", endpoint)
	}
	return nil
}

// ToTimings converts the session section.
func (c *Config) ToTimings() session.Timings {
	return session.Timings{
		ProcessingDelay:    c.Session.ProcessingDelay,
		CameraSuccessDwell: c.Session.Dwell.CameraSuccess,
		CameraFailureDwell: c.Session.Dwell.CameraFailure,
		FileSuccessDwell:   c.Session.Dwell.FileSuccess,
		FileFailureDwell:   c.Session.Dwell.FileFailure,
		FileHintDwell:      c.Session.Dwell.FileHint,
	}
}

// ToCaptureSettings converts the capture section.
func (c *Config) ToCaptureSettings() capture.Settings {
	return capture.Settings{
		Facing:       capture.Facing(c.Capture.Facing),
		RegionWidth:  c.Capture.RegionSize,
		RegionHeight: c.Capture.RegionSize,
		FrameRate:    c.Capture.FrameRate,
	}
}

// ToDecodeOptions converts the decode section.
func (c *Config) ToDecodeOptions() barcode.Options {
	return barcode.Options{
		Formats:   barcode.ParseFormats(c.Decode.Formats),
		TryHarder: c.Decode.TryHarder,
	}
}

// CheckinTimeout returns the submission timeout; zero leaves it to the transport.
func (c *Config) CheckinTimeout() time.Duration {
	return time.Duration(c.Checkin.TimeoutSec) * time.Second
}

// Addr returns the listen address of the server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
