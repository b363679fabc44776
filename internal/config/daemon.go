package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical daemon defaults file.
// This is the single source of truth for all default daemon values.
const DefaultConfigPath = "config/emosensed.defaults.json"

// DaemonConfig is the root configuration for the acquisition daemon.
// All fields are optional pointers so a partial JSON file only
// overrides what it names; the Get* accessors fall back to hardcoded
// defaults for everything else.
type DaemonConfig struct {
	// Device params
	SerialPort *string  `json:"serial_port,omitempty"` // empty means auto-detect
	BaudRate   *int     `json:"baud_rate,omitempty"`
	SampleRate *float64 `json:"sample_rate,omitempty"`

	// Buffer params
	BufferCapacity *int `json:"buffer_capacity,omitempty"`

	// Upload params
	UploadEndpoint  *string `json:"upload_endpoint,omitempty"`
	UploadInterval  *string `json:"upload_interval,omitempty"` // duration string like "2s"
	UploadTimeout   *string `json:"upload_timeout,omitempty"`  // duration string like "5s"
	UploadAutoStart *bool   `json:"upload_auto_start,omitempty"`
	APIKey          *string `json:"api_key,omitempty"`

	// Render params
	RenderInterval *string  `json:"render_interval,omitempty"` // duration string like "100ms"
	EEGScale       *float64 `json:"eeg_scale,omitempty"`
	PPGScale       *float64 `json:"ppg_scale,omitempty"`

	// Storage params
	RecordDir *string `json:"record_dir,omitempty"`
	DBPath    *string `json:"db_path,omitempty"`

	// Server params
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyDaemonConfig returns a DaemonConfig with all fields set to nil.
// Use LoadDaemonConfig to load actual values from a file.
func EmptyDaemonConfig() *DaemonConfig {
	return &DaemonConfig{}
}

// LoadDaemonConfig loads a DaemonConfig from a JSON file. The file is
// validated to have a .json extension and to be under the max file
// size. Fields omitted from the JSON keep their defaults, so partial
// configs are safe.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDaemonConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from
// DefaultConfigPath, searching upward from the current directory.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *DaemonConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/ packages
	}
	for _, path := range candidates {
		if cfg, err := LoadDaemonConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *DaemonConfig) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.SampleRate != nil && *c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %f", *c.SampleRate)
	}
	if c.BufferCapacity != nil && *c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive, got %d", *c.BufferCapacity)
	}
	if c.EEGScale != nil && *c.EEGScale <= 0 {
		return fmt.Errorf("eeg_scale must be positive, got %f", *c.EEGScale)
	}
	if c.PPGScale != nil && *c.PPGScale <= 0 {
		return fmt.Errorf("ppg_scale must be positive, got %f", *c.PPGScale)
	}

	if c.UploadEndpoint != nil && *c.UploadEndpoint != "" {
		u, err := url.Parse(*c.UploadEndpoint)
		if err != nil {
			return fmt.Errorf("invalid upload_endpoint '%s': %w", *c.UploadEndpoint, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upload_endpoint must be http or https, got %q", u.Scheme)
		}
	}

	for name, v := range map[string]*string{
		"upload_interval": c.UploadInterval,
		"upload_timeout":  c.UploadTimeout,
		"render_interval": c.RenderInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	return nil
}

// GetSerialPort returns the serial_port value or the default.
// Empty means the daemon should auto-detect a USB serial device.
func (c *DaemonConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *DaemonConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 3000000
	}
	return *c.BaudRate
}

// GetSampleRate returns the sample_rate value or the default.
func (c *DaemonConfig) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return 500
	}
	return *c.SampleRate
}

// GetBufferCapacity returns the buffer_capacity value or the default.
func (c *DaemonConfig) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return 2500 // 5 seconds at 500 Hz
	}
	return *c.BufferCapacity
}

// GetUploadEndpoint returns the upload_endpoint value or the default.
func (c *DaemonConfig) GetUploadEndpoint() string {
	if c.UploadEndpoint == nil || *c.UploadEndpoint == "" {
		return "http://localhost:5000/api/emotion"
	}
	return *c.UploadEndpoint
}

// GetUploadInterval parses and returns the UploadInterval as a time.Duration.
func (c *DaemonConfig) GetUploadInterval() time.Duration {
	return c.duration(c.UploadInterval, 2*time.Second)
}

// GetUploadTimeout parses and returns the UploadTimeout as a time.Duration.
func (c *DaemonConfig) GetUploadTimeout() time.Duration {
	return c.duration(c.UploadTimeout, 5*time.Second)
}

// GetUploadAutoStart returns the upload_auto_start value or the default.
func (c *DaemonConfig) GetUploadAutoStart() bool {
	if c.UploadAutoStart == nil {
		return false
	}
	return *c.UploadAutoStart
}

// GetAPIKey returns the api_key value or the default (no key).
func (c *DaemonConfig) GetAPIKey() string {
	if c.APIKey == nil {
		return ""
	}
	return *c.APIKey
}

// GetRenderInterval parses and returns the RenderInterval as a time.Duration.
func (c *DaemonConfig) GetRenderInterval() time.Duration {
	return c.duration(c.RenderInterval, 100*time.Millisecond)
}

// GetEEGScale returns the eeg_scale value or the default.
func (c *DaemonConfig) GetEEGScale() float64 {
	if c.EEGScale == nil {
		return 16
	}
	return *c.EEGScale
}

// GetPPGScale returns the ppg_scale value or the default.
func (c *DaemonConfig) GetPPGScale() float64 {
	if c.PPGScale == nil {
		return 100
	}
	return *c.PPGScale
}

// GetRecordDir returns the record_dir value or the default.
func (c *DaemonConfig) GetRecordDir() string {
	if c.RecordDir == nil || *c.RecordDir == "" {
		return "."
	}
	return *c.RecordDir
}

// GetDBPath returns the db_path value or the default.
func (c *DaemonConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "emosense.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the listen_addr value or the default.
func (c *DaemonConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

func (c *DaemonConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
