package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/arraymon/internal/arrayclient"
)

type System struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type Auth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TLS struct {
	Mode     string `yaml:"mode"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type Categories struct {
	Configuration string `yaml:"configuration"`
	Performance   string `yaml:"performance"`
	Events        string `yaml:"events"`
}

type Collection struct {
	Interval      string     `yaml:"interval"`
	Threads       int        `yaml:"threads"`
	MaxIterations int        `yaml:"max_iterations"`
	PerController bool       `yaml:"per_controller"`
	Timeout       string     `yaml:"timeout"`
	Categories    Categories `yaml:"categories"`
	Include       []string   `yaml:"include"`
	Exclude       []string   `yaml:"exclude"`
}

type Influx struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	Database  string `yaml:"database"`
	Bootstrap bool   `yaml:"bootstrap"`
}

type RemoteWrite struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type Sink struct {
	Influx      Influx      `yaml:"influx"`
	RemoteWrite RemoteWrite `yaml:"remote_write"`
}

type Capture struct {
	Dir string `yaml:"dir"`
}

type Replay struct {
	Dir        string `yaml:"dir"`
	FailureDir string `yaml:"failure_dir"`
}

type Config struct {
	System      System     `yaml:"system"`
	Controllers []string   `yaml:"controllers"`
	Auth        Auth       `yaml:"auth"`
	TLS         TLS        `yaml:"tls"`
	Collection  Collection `yaml:"collection"`
	Sink        Sink       `yaml:"sink"`
	Capture     Capture    `yaml:"capture"`
	Replay      Replay     `yaml:"replay"`
	SelfTelemetry struct {
		Listen string `yaml:"listen"`
		NS     string `yaml:"prometheus_namespace"`
	} `yaml:"selfTelemetry"`
}

// Duration parses a config duration string, returning def when unset.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func (c Collection) IntervalDuration() time.Duration { return Duration(c.Interval, 60*time.Second) }
func (c Collection) TimeoutDuration() time.Duration  { return Duration(c.Timeout, 30*time.Second) }

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.SelfTelemetry.Listen == "" {
		c.SelfTelemetry.Listen = ":19090"
	}
	if c.Collection.Threads == 0 {
		c.Collection.Threads = 8
	}
	if c.TLS.Mode == "" {
		c.TLS.Mode = string(arrayclient.TLSNormal)
	}
	if c.System.Name == "" {
		c.System.Name = c.System.ID
	}
	return &c, nil
}

// Validate checks startup-fatal mistakes. Replay-only invocations need no
// controllers; live collection needs one or two.
func (c *Config) Validate() error {
	replayOnly := c.Replay.Dir != ""

	if !replayOnly {
		if c.System.ID == "" {
			return fmt.Errorf("system.id is required")
		}
		if n := len(c.Controllers); n == 0 || n > 2 {
			return fmt.Errorf("expected one or two controllers, got %d", n)
		}
	}
	if !arrayclient.TLSMode(c.TLS.Mode).Valid() {
		return fmt.Errorf("unknown tls.mode %q", c.TLS.Mode)
	}
	if c.Capture.Dir == "" && c.Sink.Influx.URL == "" {
		return fmt.Errorf("sink.influx.url is required unless capture.dir is set")
	}
	if c.Collection.IntervalDuration() <= 0 {
		return fmt.Errorf("collection.interval must be positive")
	}
	return nil
}
