package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"github.com/cosiner/argv"
	"gopkg.in/yaml.v2"

	"github.com/kdbg-tools/kdbg/pkg/logflags"
)

const (
	configDir  string = ".kdbg"
	configFile string = "config.yml"
)

const (
	// DefaultSymbolizer is the address-to-line tool run for every address.
	DefaultSymbolizer = "addr2line"
	// DefaultKernel is the kernel image, relative to the working directory.
	DefaultKernel = "target/bin/kernel"
	// DefaultBackend selects the external symbolizer.
	DefaultBackend = "addr2line"
	// DefaultLabelColor is dark blue.
	DefaultLabelColor = 34
	// DefaultNativeCacheSize is the number of resolved addresses kept by
	// the native backend.
	DefaultNativeCacheSize = 1024
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Symbolizer is the command line of the address-to-line tool. Extra
	// arguments are passed before -e.
	Symbolizer string `yaml:"symbolizer,omitempty"`
	// Kernel is the path of the kernel binary carrying debug information.
	Kernel string `yaml:"kernel,omitempty"`
	// Backend is either "addr2line" or "native".
	Backend string `yaml:"backend,omitempty"`

	// LabelColor is the ANSI foreground color of the pagetable labels (3/4
	// bit color codes as defined here:
	// https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	LabelColor *int `yaml:"label-color,omitempty"`

	// NativeCacheSize is the number of entries of the native backend cache.
	NativeCacheSize int `yaml:"native-cache-size,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	if c.Symbolizer == "" {
		c.Symbolizer = DefaultSymbolizer
	}
	if c.Kernel == "" {
		c.Kernel = DefaultKernel
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.LabelColor == nil {
		color := DefaultLabelColor
		c.LabelColor = &color
	}
	if c.NativeCacheSize <= 0 {
		c.NativeCacheSize = DefaultNativeCacheSize
	}
}

// LoadConfig reads the configuration file at p, or at the default location
// if p is empty. A missing file yields the default configuration, the file
// is never created.
func LoadConfig(p string) (*Config, error) {
	logger := logflags.ConfigLogger()
	if p == "" {
		var err error
		p, err = GetConfigFilePath(configFile)
		if err != nil {
			return nil, err
		}
	}

	data, err := ioutil.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debugf("no configuration file at %s, using defaults", p)
			return Default(), nil
		}
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %w", p, err)
	}
	c.fillDefaults()
	if logflags.Config() {
		logger.Debugf("loaded %s: %+v", p, c)
	}
	return &c, nil
}

// SymbolizerArgv splits the Symbolizer command line into the executable
// and its extra arguments.
func (c *Config) SymbolizerArgv() (string, []string, error) {
	v, err := argv.Argv(c.Symbolizer,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return "", nil, err
	}
	if len(v) != 1 || len(v[0]) == 0 {
		return "", nil, fmt.Errorf("illegal symbolizer command line '%s'", c.Symbolizer)
	}
	return v[0][0], v[0][1:], nil
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
