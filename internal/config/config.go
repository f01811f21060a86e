// Package config reads the service configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

const (
	defaultAddr          = ":3000"
	defaultSenseMilliOhm = 10
	defaultInputLimit    = "3.25A"
)

type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// I2CBus names the bus for i2creg.Open. Empty picks the first bus.
	I2CBus string
	// Profile is a JSON battery profile overlaid on the built-in default.
	Profile string
	// PollInterval and FastPollInterval override the profile's periods
	// when non-zero.
	PollInterval     time.Duration
	FastPollInterval time.Duration
	SenseMilliOhm    int
	// SleepWatch enables the logind suspend/resume hook.
	SleepWatch bool
	// Charger enables the BQ25895 adapter signal.
	Charger    bool
	InputLimit string
}

// Load reads the configuration from the process environment.
func Load() Config { return FromEnv(os.Getenv) }

// FromEnv builds the configuration from getenv. Malformed values are logged
// and the default is kept.
func FromEnv(getenv func(string) string) Config {
	c := Config{
		Addr:          defaultAddr,
		SenseMilliOhm: defaultSenseMilliOhm,
		SleepWatch:    true,
		Charger:       true,
		InputLimit:    defaultInputLimit,
	}
	if v := getenv("OZGAUGE_ADDR"); v != "" {
		c.Addr = v
	}
	c.I2CBus = getenv("OZGAUGE_I2C_BUS")
	c.Profile = getenv("OZGAUGE_PROFILE")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"OZGAUGE_POLL_INTERVAL", &c.PollInterval},
		{"OZGAUGE_FAST_POLL_INTERVAL", &c.FastPollInterval},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		if p, err := time.ParseDuration(v); err == nil && p >= time.Second {
			*d.dst = p
		} else {
			log.Printf("Config: ignoring %s=%q, want a duration of at least 1s", d.key, v)
		}
	}

	if v := getenv("OZGAUGE_SENSE_MILLIOHM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SenseMilliOhm = n
		} else {
			log.Printf("Config: ignoring OZGAUGE_SENSE_MILLIOHM=%q", v)
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"OZGAUGE_SLEEPWATCH", &c.SleepWatch},
		{"OZGAUGE_CHARGER", &c.Charger},
	}
	for _, b := range bools {
		v := getenv(b.key)
		if v == "" {
			continue
		}
		if p, err := strconv.ParseBool(v); err == nil {
			*b.dst = p
		} else {
			log.Printf("Config: ignoring %s=%q", b.key, v)
		}
	}

	switch v := getenv("OZGAUGE_INPUT_LIMIT"); v {
	case "":
	case "2A", "3A", "3.25A":
		c.InputLimit = v
	default:
		log.Printf("Config: ignoring OZGAUGE_INPUT_LIMIT=%q, want 2A, 3A or 3.25A", v)
	}
	return c
}
