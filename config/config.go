// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package config loads the runtime configuration of the flipflop tools from
// the environment and an optional .env file.
//
// Recognized variables:
//
//	FLIPFLOP_LAYOUT       packed buffer layout version (1, 2 or 3; default 1)
//	FLIPFLOP_TICK_RATE    simulation ticks per second (default 10)
//	FLIPFLOP_WORKERS      simulation worker goroutines (default 0: GOMAXPROCS)
//	FLIPFLOP_PALETTE_OFF  color of unpowered wires (default #000000)
//	FLIPFLOP_PALETTE_ON   color of powered wires (default #ff0000)
//	FLIPFLOP_FALLBACK     color of wires that could not be allocated a cluster (default #808080)
//	FLIPFLOP_LOG_LEVEL    logrus level (default info)
//	FLIPFLOP_LISTEN       frame stream listen address (default: disabled)
//
package config

import (
	"os"
	"strconv"

	"github.com/db47h/flipflop"
	"github.com/gogpu/gg"
	"github.com/joho/godotenv"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Prefix is the prefix of all environment variables.
//
const Prefix = "FLIPFLOP_"

// Config is the runtime configuration.
//
type Config struct {
	Layout   flipflop.Layout
	TickRate float64
	Workers  int
	Palette  flipflop.Palette
	Fallback gg.RGBA
	LogLevel logrus.Level
	Listen   string
}

// Default returns the default configuration.
//
func Default() Config {
	return Config{
		Layout:   flipflop.V1,
		TickRate: 10,
		Palette:  flipflop.DefaultPalette,
		Fallback: gg.RGB(128.0/255, 128.0/255, 128.0/255),
		LogLevel: logrus.InfoLevel,
	}
}

// Load loads the given .env files (".env" if none) then reads the
// configuration from the environment. Missing .env files are not an error.
//
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return Config{}, errors.Wrapf(err, "load %s", f)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a configuration from the variables returned by getenv.
//
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	get := func(name string) string { return getenv(Prefix + name) }

	if v := get("LAYOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrap(err, Prefix+"LAYOUT")
		}
		if cfg.Layout, err = flipflop.LayoutByVersion(n); err != nil {
			return cfg, errors.Wrap(err, Prefix+"LAYOUT")
		}
	}
	if v := get("TICK_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, errors.Wrap(err, Prefix+"TICK_RATE")
		}
		if r <= 0 {
			return cfg, errors.Errorf("%sTICK_RATE: must be positive, got %v", Prefix, r)
		}
		cfg.TickRate = r
	}
	if v := get("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrap(err, Prefix+"WORKERS")
		}
		cfg.Workers = n
	}
	for _, c := range []struct {
		name string
		dst  *gg.RGBA
	}{
		{"PALETTE_OFF", &cfg.Palette.Off},
		{"PALETTE_ON", &cfg.Palette.On},
		{"FALLBACK", &cfg.Fallback},
	} {
		if v := get(c.name); v != "" {
			col, err := ParseColor(v)
			if err != nil {
				return cfg, errors.Wrap(err, Prefix+c.name)
			}
			*c.dst = col
		}
	}
	if v := get("LOG_LEVEL"); v != "" {
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			return cfg, errors.Wrap(err, Prefix+"LOG_LEVEL")
		}
		cfg.LogLevel = lvl
	}
	cfg.Listen = get("LISTEN")
	return cfg, nil
}

// ParseColor parses an opaque hex color like "#ff8000" or "#f80".
//
func ParseColor(s string) (gg.RGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return gg.RGBA{}, errors.Wrapf(err, "invalid color %q", s)
	}
	return gg.RGB(c.R, c.G, c.B), nil
}
