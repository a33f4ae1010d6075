package lift

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fieldstation/lift_interface/wifi"
)

// Config describes one lift installation. It is immutable once the
// controller is constructed.
type Config struct {
	// MaxHeight is the travel between the bottom and top hall sensors in
	// meters. Must be positive.
	MaxHeight float64
	// Address is the UDP host:port of the motor controller.
	Address string
	// Network is the lift's own WiFi network.
	Network wifi.Network

	// Digital input identifiers.
	HallBottom  int
	HallTop     int
	ChargingPin int

	// TickInterval is the motion loop period.
	TickInterval time.Duration
	// ResponseTimeout is how long the loop tolerates missing
	// acknowledgements before logging a liveness warning.
	ResponseTimeout time.Duration
	// SafetyMargin bounds full-travel episodes beyond the calibrated travel
	// time, so a failed hall sensor cannot cause an endless episode.
	SafetyMargin time.Duration

	DockingRetries int
	DockingDelay   time.Duration
	// BumpDuration bounds the short re-seat and sensor-clearing episodes.
	BumpDuration time.Duration

	// CalibrationTimeout bounds a whole calibration run. Zero disables the
	// bound.
	CalibrationTimeout time.Duration
	// ConnectTimeout bounds the initial zero-speed handshake.
	ConnectTimeout time.Duration
}

// DefaultConfig matches the deployed lift hardware.
func DefaultConfig() Config {
	return Config{
		MaxHeight: 10,
		Address:   "192.168.4.1:35037",
		Network:   wifi.Network{SSID: "LiftSystem 949f", PSK: "supersicher"},

		HallBottom:  5,
		HallTop:     6,
		ChargingPin: 7,

		TickInterval:    100 * time.Millisecond,
		ResponseTimeout: 3 * time.Second,
		SafetyMargin:    10 * time.Second,

		DockingRetries: 3,
		DockingDelay:   10 * time.Second,
		BumpDuration:   time.Second,

		CalibrationTimeout: 15 * time.Minute,
		ConnectTimeout:     10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.MaxHeight <= 0 {
		return errors.New("max height must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.ResponseTimeout < c.TickInterval {
		return errors.New("response timeout must be at least one tick interval")
	}
	if c.DockingRetries < 0 {
		return errors.New("docking retries must not be negative")
	}
	if c.BumpDuration <= 0 {
		return errors.New("bump duration must be positive")
	}
	return nil
}

type rawConfig struct {
	MaxHeight          float64      `yaml:"max_height_m"`
	Address            string       `yaml:"address"`
	Network            wifi.Network `yaml:"network"`
	HallBottom         int          `yaml:"hall_bottom"`
	HallTop            int          `yaml:"hall_top"`
	ChargingPin        int          `yaml:"charging_pin"`
	TickInterval       string       `yaml:"tick_interval"`
	ResponseTimeout    string       `yaml:"response_timeout"`
	SafetyMargin       string       `yaml:"safety_margin"`
	DockingRetries     int          `yaml:"docking_retries"`
	DockingDelay       string       `yaml:"docking_delay"`
	BumpDuration       string       `yaml:"bump_duration"`
	CalibrationTimeout string       `yaml:"calibration_timeout"`
	ConnectTimeout     string       `yaml:"connect_timeout"`
}

// UnmarshalYAML merges the document over the values already present in c, so
// partial config files keep the defaults.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := rawConfig{
		MaxHeight:   c.MaxHeight,
		Address:     c.Address,
		Network:     c.Network,
		HallBottom:  c.HallBottom,
		HallTop:     c.HallTop,
		ChargingPin: c.ChargingPin,
		// Duration strings are re-parsed below; empty keeps the default.
		DockingRetries: c.DockingRetries,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.MaxHeight = raw.MaxHeight
	c.Address = raw.Address
	c.Network = raw.Network
	c.HallBottom = raw.HallBottom
	c.HallTop = raw.HallTop
	c.ChargingPin = raw.ChargingPin
	c.DockingRetries = raw.DockingRetries
	for _, d := range []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"tick_interval", raw.TickInterval, &c.TickInterval},
		{"response_timeout", raw.ResponseTimeout, &c.ResponseTimeout},
		{"safety_margin", raw.SafetyMargin, &c.SafetyMargin},
		{"docking_delay", raw.DockingDelay, &c.DockingDelay},
		{"bump_duration", raw.BumpDuration, &c.BumpDuration},
		{"calibration_timeout", raw.CalibrationTimeout, &c.CalibrationTimeout},
		{"connect_timeout", raw.ConnectTimeout, &c.ConnectTimeout},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return errors.Wrapf(err, "parsing %s", d.name)
		}
		*d.dest = v
	}
	return nil
}
