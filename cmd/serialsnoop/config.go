package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// configEnv names the environment variable that points at a config file
// when --config is not given.
const configEnv = "SERIALSNOOP_CONFIG"

// fileConfig is the YAML config file. Every field is optional; flags given
// on the command line take precedence.
//
//	ports: [/dev/ttyUSB0, /dev/ttyUSB1]
//	params: 9600N81
//	format: xml
//	relay: true
//	flush: false
//	buffer_size: 4096
//	poll_interval: 10ms
//	max_write_errors: 10
//	debug: false
type fileConfig struct {
	Ports          []string      `yaml:"ports"`
	Params         string        `yaml:"params"`
	Format         string        `yaml:"format"`
	Relay          *bool         `yaml:"relay"`
	Flush          *bool         `yaml:"flush"`
	BufferSize     int           `yaml:"buffer_size"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxWriteErrors int           `yaml:"max_write_errors"`
	Debug          bool          `yaml:"debug"`
}

// loadConfig reads the config file at path. There is no discovery: an
// empty path means no file.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(cfg.Ports) != 0 && len(cfg.Ports) != 2 {
		return nil, fmt.Errorf("config %s: ports must list exactly two devices", path)
	}
	return cfg, nil
}
