package main

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type fileConfig struct {
	Addr            string `toml:"addr"`
	MaxMessageSize  int    `toml:"max_message_size"`
	IdleTimeout     string `toml:"idle_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	LogLevel        string `toml:"log_level"`
}

type config struct {
	addr            string
	maxMessageSize  int
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	logLevel        zerolog.Level
}

func defaultConfig() config {
	return config{
		addr:            "127.0.0.1:7000",
		maxMessageSize:  1024 * 1024,
		idleTimeout:     0,
		shutdownTimeout: 3 * time.Second,
		logLevel:        zerolog.InfoLevel,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, errors.Wrap(err, "load config")
	}

	if meta.IsDefined("addr") {
		addr := strings.TrimSpace(raw.Addr)
		if addr != "" {
			cfg.addr = addr
		}
	}

	if meta.IsDefined("max_message_size") {
		if raw.MaxMessageSize <= 0 {
			return config{}, errors.New("max_message_size must be positive")
		}
		cfg.maxMessageSize = raw.MaxMessageSize
	}

	if meta.IsDefined("idle_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleTimeout))
		if err != nil {
			return config{}, errors.Wrap(err, "parse idle_timeout")
		}
		cfg.idleTimeout = d
	}

	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return config{}, errors.Wrap(err, "parse shutdown_timeout")
		}
		cfg.shutdownTimeout = d
	}

	if meta.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return config{}, errors.Wrap(err, "parse log_level")
		}
		cfg.logLevel = level
	}

	return cfg, nil
}
