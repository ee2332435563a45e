package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

const (
	transportStdio = "stdio"
	transportHTTP  = "http"

	defaultAddr     = "localhost:8080"
	defaultLogLevel = "info"
)

// params are the command line options.
type params struct {
	ConfigFilepath  *string `short:"c" long:"config" description:"Config file's path (JSON, comments and trailing commas allowed)"`
	Transport       *string `short:"t" long:"transport" choice:"stdio" choice:"http" description:"Transport to serve on (default: stdio)"`
	Addr            *string `long:"addr" description:"Listen address of the HTTP transport (default: localhost:8080)"`
	MetricsAddr     *string `long:"metrics-addr" description:"Separate listen address for /metrics (default: the HTTP transport's mux, or none for stdio)"`
	LogLevel        *string `short:"l" long:"log-level" description:"Log level: debug, info, warn or error (default: info)"`
	RootConcurrency *int    `long:"root-concurrency" description:"Number of client roots checked concurrently (default: 1)"`

	Args struct {
		Directories []string `positional-arg-name:"directory"`
	} `positional-args:"yes"`
}

// config is the server configuration, read from a file and overridden by params.
type config struct {
	AllowedDirectories []string `json:"allowed_directories,omitempty"`

	Transport   string `json:"transport,omitempty"`
	Addr        string `json:"addr,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty"`

	LogLevel        string `json:"log_level,omitempty"`
	RootConcurrency int    `json:"root_concurrency,omitempty"`
}

func readConfig(configFilepath string) (config, error) {
	var conf config

	bytes, err := os.ReadFile(configFilepath)
	if err != nil {
		return conf, fmt.Errorf("failed to read config file: %w", err)
	}
	if bytes, err = hujson.Standardize(bytes); err != nil {
		return conf, fmt.Errorf("failed to parse config file %s: %w", configFilepath, err)
	}
	if err = json.Unmarshal(bytes, &conf); err != nil {
		return conf, fmt.Errorf("failed to decode config file %s: %w", configFilepath, err)
	}

	return conf, nil
}

// loadConfig reads the config file named in p, if any, applies p on top of it and fills in
// defaults.
func loadConfig(p params) (config, error) {
	var conf config
	if p.ConfigFilepath != nil {
		var err error
		if conf, err = readConfig(*p.ConfigFilepath); err != nil {
			return conf, err
		}
	}

	conf = conf.merge(p)
	conf.setDefaults()

	return conf, conf.validate()
}

func (c config) merge(p params) config {
	c.AllowedDirectories = append(c.AllowedDirectories, p.Args.Directories...)

	if p.Transport != nil {
		c.Transport = *p.Transport
	}
	if p.Addr != nil {
		c.Addr = *p.Addr
	}
	if p.MetricsAddr != nil {
		c.MetricsAddr = *p.MetricsAddr
	}
	if p.LogLevel != nil {
		c.LogLevel = *p.LogLevel
	}
	if p.RootConcurrency != nil {
		c.RootConcurrency = *p.RootConcurrency
	}

	return c
}

func (c *config) setDefaults() {
	if c.Transport == "" {
		c.Transport = transportStdio
	}
	if c.Transport == transportHTTP && c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.RootConcurrency <= 0 {
		c.RootConcurrency = 1
	}
}

func (c config) validate() error {
	switch c.Transport {
	case transportStdio, transportHTTP:
	default:
		return fmt.Errorf("unknown transport: %q", c.Transport)
	}

	if _, err := c.level(); err != nil {
		return err
	}

	return nil
}

func (c config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
