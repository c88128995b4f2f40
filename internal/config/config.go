// Package config provides the configuration file of the command line tool.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"gitlab.com/tozd/go/pinject"
)

// DefaultPlatform is the platform preset used when none is configured.
const DefaultPlatform = pinject.PlatformAndroid

// Symbols overrides names of functions called inside the target process.
type Symbols struct {
	Mmap    string `yaml:"mmap"`
	Dlopen  string `yaml:"dlopen"`
	Dlsym   string `yaml:"dlsym"`
	Dlerror string `yaml:"dlerror"`
	Dlclose string `yaml:"dlclose"`
}

// Config is the configuration file. Zero values keep platform preset values.
type Config struct {
	// Platform is the name of the platform preset.
	Platform    string          `yaml:"platform"`
	MmapModule  string          `yaml:"mmapModule"`
	DlModule    string          `yaml:"dlModule"`
	DlopenFlags *uint64         `yaml:"dlopenFlags"`
	ScratchSize uint64          `yaml:"scratchSize"`
	RawMmap     bool            `yaml:"rawMmap"`
	Symbols     Symbols         `yaml:"symbols"`
	Quirks      *pinject.Quirks `yaml:"quirks"`

	CallTimeout  time.Duration `yaml:"callTimeout"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Unload       bool          `yaml:"unload"`
	LogLevel     string        `yaml:"logLevel"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Platform:     DefaultPlatform,
		MmapModule:   "",
		DlModule:     "",
		DlopenFlags:  nil,
		ScratchSize:  0,
		RawMmap:      false,
		Symbols:      Symbols{},
		Quirks:       nil,
		CallTimeout:  pinject.DefaultCallTimeout,
		PollInterval: pinject.DefaultPollInterval,
		Unload:       false,
		LogLevel:     "info",
	}
}

// Load reads the configuration file at path on top of the default configuration.
func Load(path string) (*Config, errors.E) {
	data, err := os.ReadFile(path)
	if err != nil {
		errE := errors.WithMessage(err, "read config")
		errors.Details(errE)["path"] = path
		return nil, errE
	}
	config, errE := Parse(data)
	if errE != nil {
		errors.Details(errE)["path"] = path
		return nil, errE
	}
	return config, nil
}

// Parse decodes YAML configuration on top of the default configuration.
// Unknown fields are an error.
func Parse(data []byte) (*Config, errors.E) {
	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(config)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.WithMessage(err, "parse config")
	}
	errE := config.Validate()
	if errE != nil {
		return nil, errE
	}
	return config, nil
}

// Validate checks the configuration.
func (c *Config) Validate() errors.E {
	if c.Platform == "" {
		return errors.New("platform is required")
	}
	if c.CallTimeout < 0 {
		return errors.WithDetails(errors.New("call timeout cannot be negative"), "callTimeout", c.CallTimeout.String())
	}
	if c.PollInterval < 0 {
		return errors.WithDetails(errors.New("poll interval cannot be negative"), "pollInterval", c.PollInterval.String())
	}
	if c.ScratchSize != 0 && c.ScratchSize <= pinject.ArgumentOffset {
		return errors.WithDetails(errors.New("scratch size too small"), "scratchSize", c.ScratchSize, "min", pinject.ArgumentOffset+1)
	}
	return nil
}

// PlatformFor returns the configured platform preset for arch with overrides applied.
func (c *Config) PlatformFor(arch *pinject.Arch) (pinject.Platform, errors.E) {
	platform, errE := pinject.PlatformByName(c.Platform, arch)
	if errE != nil {
		return pinject.Platform{}, errE
	}
	if c.MmapModule != "" {
		platform.MmapModule = c.MmapModule
	}
	if c.DlModule != "" {
		platform.DlModule = c.DlModule
	}
	if c.DlopenFlags != nil {
		platform.DlopenFlags = *c.DlopenFlags
	}
	if c.ScratchSize != 0 {
		platform.ScratchSize = c.ScratchSize
	}
	if c.RawMmap {
		platform.RawMmap = true
	}
	if c.Quirks != nil {
		platform.Quirks = *c.Quirks
	}
	platform.Mmap = c.Symbols.Mmap
	platform.Dlopen = c.Symbols.Dlopen
	platform.Dlsym = c.Symbols.Dlsym
	platform.Dlerror = c.Symbols.Dlerror
	platform.Dlclose = c.Symbols.Dlclose
	return platform, nil
}
