package lift

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalMergesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	doc := `
max_height_m: 12.5
hall_bottom: 17
tick_interval: 50ms
docking_retries: 5
`
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig()
	want.MaxHeight = 12.5
	want.HallBottom = 17
	want.TickInterval = 50 * time.Millisecond
	want.DockingRetries = 5
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("unexpected config: got(-)/want(+):\n%s", diff)
	}
}

func TestConfigUnmarshalBadDuration(t *testing.T) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte("tick_interval: fast"), &cfg); err == nil {
		t.Error("parsing a bad duration succeeded")
	}
}

func TestConfigValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero height", func(c *Config) { c.MaxHeight = 0 }, false},
		{"negative height", func(c *Config) { c.MaxHeight = -1 }, false},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }, false},
		{"timeout below tick", func(c *Config) { c.ResponseTimeout = c.TickInterval / 2 }, false},
		{"negative retries", func(c *Config) { c.DockingRetries = -1 }, false},
		{"zero bump duration", func(c *Config) { c.BumpDuration = 0 }, false},
		{"zero retries", func(c *Config) { c.DockingRetries = 0 }, true},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != test.ok {
				t.Errorf("Validate() = %v, want ok = %v", err, test.ok)
			}
		})
	}
}
