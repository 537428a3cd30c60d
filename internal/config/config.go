package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"epd4in2b/internal/epd"
	"epd4in2b/internal/model"
)

// Bus driver names accepted in BusConfig.Driver.
const (
	DriverPeriph = "periph"
	DriverCgo    = "cgo"
	DriverSim    = "sim"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SourceConfig selects what the refresher renders. The first non-empty of
// Image, URL and Text wins.
type SourceConfig struct {
	// Image is a PNG/JPEG file for the black plane (or the whole color
	// picture when RedImage is empty).
	Image string `yaml:"image,omitempty" json:"image,omitempty"`
	// RedImage is an optional second file whose dark pixels go red.
	RedImage string `yaml:"red_image,omitempty" json:"red_image,omitempty"`

	// URL is a page captured with headless Chromium at panel resolution.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// WaitSelector is a CSS selector to wait for before capturing.
	WaitSelector string `yaml:"wait_selector,omitempty" json:"wait_selector,omitempty"`

	// Text is rendered as a text card; the first line is drawn in red.
	Text string `yaml:"text,omitempty" json:"text,omitempty"`

	// Dither enables Floyd-Steinberg dithering of the black plane.
	Dither bool `yaml:"dither" json:"dither"`
	// Threshold is the luma cut-off for black (0 = default).
	Threshold uint8 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	// Fit is how a mis-sized image is brought to panel size:
	// "fit" (letterbox, default), "fill" (crop) or "none" (reject).
	Fit string `yaml:"fit" json:"fit"`
}

// BusConfig describes the wiring of the panel.
type BusConfig struct {
	// Driver is "periph" (default), "cgo" or "sim".
	Driver string `yaml:"driver" json:"driver"`
	// SPIPort is the spireg port name; empty selects the first port.
	SPIPort string `yaml:"spi_port" json:"spi_port"`
	// SPIHz is the SPI clock in hertz.
	SPIHz int64 `yaml:"spi_hz" json:"spi_hz"`

	// Revision is "auto" (default), "b" or "legacy". Buses that cannot
	// read the panel's status byte back need it set explicitly.
	Revision string `yaml:"revision" json:"revision"`

	RST  string `yaml:"rst" json:"rst"`
	DC   string `yaml:"dc" json:"dc"`
	CS   string `yaml:"cs" json:"cs"`
	Busy string `yaml:"busy" json:"busy"`
}

// BatteryConfig enables the PiSugar-style I2C battery gauge.
type BatteryConfig struct {
	// I2CBus is the i2creg bus name; empty selects the first bus.
	I2CBus string `yaml:"i2c_bus" json:"i2c_bus"`
	// Addr is the 7-bit device address.
	Addr uint16 `yaml:"addr" json:"addr"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "0 * * * *").
	// Tri-color refreshes take ~15s and wear the panel, so keep it coarse.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BusyTimeout bounds each panel operation. Zero waits forever.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`

	Source SourceConfig `yaml:"source" json:"source"`
	Bus    BusConfig    `yaml:"bus" json:"bus"`

	// PreviewPath, if set, receives a PNG of every frame pushed.
	PreviewPath string `yaml:"preview_path" json:"preview_path"`

	// Battery, if non-nil, adds a battery reading to /api/status.
	Battery *BatteryConfig `yaml:"battery,omitempty" json:"battery,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Source: SourceConfig{
			Text: "epd4in2b\nno source configured",
		},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 * * * *"
	}
	if c.BusyTimeout < 0 {
		c.BusyTimeout = 0
	}

	switch c.Source.Fit {
	case model.FitContain, model.FitFill, model.FitNone:
	default:
		c.Source.Fit = model.FitContain
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = DriverPeriph
	}
	if c.Bus.Revision == "" {
		c.Bus.Revision = "auto"
	}
	if c.Bus.SPIHz <= 0 {
		c.Bus.SPIHz = 4_000_000
	}
	if c.Bus.RST == "" {
		c.Bus.RST = "GPIO17"
	}
	if c.Bus.DC == "" {
		c.Bus.DC = "GPIO25"
	}
	if c.Bus.CS == "" {
		c.Bus.CS = "GPIO8"
	}
	if c.Bus.Busy == "" {
		c.Bus.Busy = "GPIO24"
	}

	if c.Battery != nil && c.Battery.Addr == 0 {
		c.Battery.Addr = 0x57
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Bus.Driver {
	case DriverPeriph, DriverCgo, DriverSim:
	default:
		return fmt.Errorf("config: unknown bus driver %q", c.Bus.Driver)
	}
	if _, err := epd.ParseRevisionMode(c.Bus.Revision); err != nil {
		return fmt.Errorf("config: bus: %w", err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epd4in2b-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
