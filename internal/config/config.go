// Package config loads engine instance configuration from YAML.
//
// A file is first checked against the embedded CUE schema, which rejects
// unknown fields, bad enums and missing transport settings with a position,
// then decoded with yaml.v3 and completed with defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Defaults applied to omitted fields.
const (
	DefaultCommandLog   = "commands"
	DefaultEventLog     = "events"
	DefaultRingCapacity = 1024
	DefaultAdminAddr    = ":9090"
	DefaultRedisTimeout = 50 * time.Millisecond
)

// Config describes one engine instance.
type Config struct {
	Name     string  `yaml:"name"`
	Database string  `yaml:"database"`
	Logs     Logs    `yaml:"logs"`
	Inputs   []Input `yaml:"inputs"`
	Output   *Output `yaml:"output"`
	Idle     Idle    `yaml:"idle"`
	Admin    Admin   `yaml:"admin"`
}

// Logs names the command and event logs inside the database.
type Logs struct {
	Commands string `yaml:"commands"`
	Events   string `yaml:"events"`
}

// Input is one sequencer input.
type Input struct {
	Source   int32  `yaml:"source"`
	Kind     string `yaml:"kind"`
	Raw      bool   `yaml:"raw"`
	Type     int32  `yaml:"type"`
	Capacity int    `yaml:"capacity"`
	Redis    *Redis `yaml:"redis"`
}

// Output selects where committed events are published.
type Output struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Redis *Redis `yaml:"redis"`
}

// Redis addresses one list.
type Redis struct {
	Addr      string        `yaml:"addr"`
	Key       string        `yaml:"key"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxLength int64         `yaml:"max_length"`
}

// Idle holds backoff bounds. Zero values leave the engine defaults.
type Idle struct {
	MaxSpins  int           `yaml:"max_spins"`
	MaxYields int           `yaml:"max_yields"`
	MinPark   time.Duration `yaml:"min_park"`
	MaxPark   time.Duration `yaml:"max_park"`
}

// Admin configures the HTTP admin server.
type Admin struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes YAML. filename is used in error positions.
func Parse(filename string, data []byte) (*Config, error) {
	if err := validate(filename, data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.applyDefaults()
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(filename string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Logs.Commands == "" {
		c.Logs.Commands = DefaultCommandLog
	}
	if c.Logs.Events == "" {
		c.Logs.Events = DefaultEventLog
	}
	for i := range c.Inputs {
		in := &c.Inputs[i]
		if in.Kind == "ring" && in.Capacity == 0 {
			in.Capacity = DefaultRingCapacity
		}
		if in.Redis != nil && in.Redis.Timeout == 0 {
			in.Redis.Timeout = DefaultRedisTimeout
		}
	}
	if c.Output != nil {
		if c.Output.Name == "" {
			c.Output.Name = c.Name
		}
		if c.Output.Redis != nil && c.Output.Redis.Timeout == 0 {
			c.Output.Redis.Timeout = DefaultRedisTimeout
		}
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
}

// check covers rules the schema cannot express.
func (c *Config) check() error {
	seen := make(map[int32]bool)
	for _, in := range c.Inputs {
		if seen[in.Source] {
			return fmt.Errorf("%w: input source %d configured twice", ErrInvalid, in.Source)
		}
		seen[in.Source] = true
	}
	if c.Logs.Commands == c.Logs.Events {
		return fmt.Errorf("%w: command and event logs must differ, both are %q", ErrInvalid, c.Logs.Commands)
	}
	if c.Idle.MaxPark != 0 && c.Idle.MaxPark < c.Idle.MinPark {
		return fmt.Errorf("%w: idle.max_park %s is below idle.min_park %s", ErrInvalid, c.Idle.MaxPark, c.Idle.MinPark)
	}
	return nil
}
