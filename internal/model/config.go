package model

import (
	"context"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	AuthTypeNone        = "none"
	AuthTypeStaticToken = "static_token"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultListen    = ":8080"
	DefaultRetention = "PT5M"
	DefaultBuffer    = 256
	DefaultSweep     = 30 * time.Second
	DefaultSubject   = "jobcast.events"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int                `json:"version" yaml:"version"` // fixed 0 for now
	Service Service            `json:"service" yaml:"service"`
	Jobs    map[string]JobSpec `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

type Service struct {
	Verbose   *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log       *string `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
	Listen    string  `json:"listen" yaml:"listen"`
	Retention string  `json:"retention" yaml:"retention"` // ISO-8601 duration
	Buffer    int     `json:"buffer" yaml:"buffer"`       // per subscriber
	Sweep     *Sweep  `json:"sweep,omitempty" yaml:"sweep,omitempty"`
	Auth      *Auth   `json:"auth,omitempty" yaml:"auth,omitempty"`
	NATS      *NATS   `json:"nats,omitempty" yaml:"nats,omitempty"`
}

// Sweep defines how often terminated jobs are evicted. Cron takes
// precedence over Duration.
type Sweep struct {
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
}

// Auth is a tagged union: Type "none" or "static_token".
type Auth struct {
	Type  string `json:"type" yaml:"type"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"` // required when Type == "static_token"
}

type NATS struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

// JobSpec is a configured launch spec of one job type.
type JobSpec struct {
	Path string            `json:"path" yaml:"path"`
	Args []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Dir  string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env  map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	out.setDefaults()
	return out, nil
}

// DefaultConfig is stored when no configuration file exists.
func DefaultConfig(_ context.Context) Config {
	cfg := Config{
		Service: Service{
			Auth: &Auth{Type: AuthTypeNone},
		},
		Jobs: map[string]JobSpec{
			"example": {
				Path: "sh",
				Args: []string{"-c", `for i in 1 2 3; do echo "[$i/3] ($((i*100/3))%) step $i"; sleep 1; done`},
			},
		},
	}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Service.Listen == "" {
		c.Service.Listen = DefaultListen
	}
	if c.Service.Retention == "" {
		c.Service.Retention = DefaultRetention
	}
	if c.Service.Buffer <= 0 {
		c.Service.Buffer = DefaultBuffer
	}
	if c.Service.NATS != nil {
		if c.Service.NATS.Subject == "" {
			c.Service.NATS.Subject = DefaultSubject
		}
	}
}

// RetentionDuration returns the parsed retention window.
func (s Service) RetentionDuration() (time.Duration, error) {
	if s.Retention == "" {
		return ParseISODuration(DefaultRetention)
	}
	return ParseISODuration(s.Retention)
}

// Interval returns the time between two sweeps. A nil Sweep means the
// default interval.
func (s *Sweep) Interval() (time.Duration, error) {
	switch {
	case s == nil:
		return DefaultSweep, nil
	case s.Cron != "":
		return ParseCron(s.Cron)
	case s.Duration != "":
		return ParseISODuration(s.Duration)
	}
	return DefaultSweep, nil
}

func (s Service) NATSEnabled() bool {
	return s.NATS != nil && s.NATS.Enabled != nil && *s.NATS.Enabled
}

func (s Service) Token() string {
	if s.Auth == nil || s.Auth.Type != AuthTypeStaticToken {
		return ""
	}
	return s.Auth.Token
}
