// Package config holds the resolved run configuration and the optional
// rerun.yaml file it can be loaded from.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when
// no --config flag is given.
const DefaultFile = "rerun.yaml"

const (
	DefaultPattern     = "*.py"
	DefaultWatch       = "."
	DefaultInterpreter = "python3"
)

// ErrConfiguration marks an invalid configuration. It is fatal to the run.
var ErrConfiguration = errors.New("invalid configuration")

// Config is the fully resolved configuration consumed by the supervisor.
// It is not mutated after construction.
type Config struct {
	// Command is either a command line ("poetry run start") or a single
	// word naming a source file to run with Interpreter ("main" -> main.py).
	Command     string
	Patterns    []string
	Args        []string
	Watch       string
	Debug       bool
	Clean       bool
	Interpreter string
	// StopTimeout bounds the wait for a terminated child before it is
	// killed. Zero sends the termination signal and moves on.
	StopTimeout time.Duration
}

// Default returns a Config with every optional field set to its default.
func Default() Config {
	return Config{
		Patterns:    []string{DefaultPattern},
		Watch:       DefaultWatch,
		Interpreter: DefaultInterpreter,
	}
}

// Validate checks the fields the supervisor relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%w: command is required", ErrConfiguration)
	}
	if len(c.Patterns) == 0 {
		return fmt.Errorf("%w: at least one pattern is required", ErrConfiguration)
	}
	for _, p := range c.Patterns {
		if p == "" {
			return fmt.Errorf("%w: empty pattern", ErrConfiguration)
		}
	}
	if c.Watch == "" {
		return fmt.Errorf("%w: watch path is required", ErrConfiguration)
	}
	if c.Interpreter == "" {
		return fmt.Errorf("%w: interpreter is required", ErrConfiguration)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("%w: stop timeout must not be negative", ErrConfiguration)
	}
	return nil
}

// File mirrors rerun.yaml. Zero values mean "not set".
type File struct {
	Command     string   `yaml:"command,omitempty"`
	Patterns    []string `yaml:"patterns,omitempty"`
	Args        []string `yaml:"args,omitempty"`
	Watch       string   `yaml:"watch,omitempty"`
	Debug       bool     `yaml:"debug,omitempty"`
	Clean       bool     `yaml:"clean,omitempty"`
	Interpreter string   `yaml:"interpreter,omitempty"`
	StopTimeout Duration `yaml:"stop_timeout,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty File and no error.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	return f, nil
}

// Apply copies every field set in the file onto cfg.
func (f *File) Apply(cfg *Config) {
	if f.Command != "" {
		cfg.Command = f.Command
	}
	if len(f.Patterns) > 0 {
		cfg.Patterns = append([]string(nil), f.Patterns...)
	}
	if len(f.Args) > 0 {
		cfg.Args = append([]string(nil), f.Args...)
	}
	if f.Watch != "" {
		cfg.Watch = f.Watch
	}
	if f.Debug {
		cfg.Debug = true
	}
	if f.Clean {
		cfg.Clean = true
	}
	if f.Interpreter != "" {
		cfg.Interpreter = f.Interpreter
	}
	if f.StopTimeout.Duration > 0 {
		cfg.StopTimeout = f.StopTimeout.Duration
	}
}
