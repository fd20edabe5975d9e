// Package config resolves the ITYR_* environment surface into a validated
// Config, the way a runtime library reads its ambient tuning knobs once at
// startup rather than threading flags through every call.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DistPolicy selects the default memory mapper used by new allocations.
type DistPolicy string

const (
	DistCyclic DistPolicy = "cyclic"
	DistBlock  DistPolicy = "block"
)

// Policy selects the fence-elision strategy bridging the scheduler and the
// consistency protocol.
type Policy string

const (
	PolicySerial       Policy = "serial"
	PolicyNaive        Policy = "naive"
	PolicyWorkFirst    Policy = "workfirst"
	PolicyWorkFirstLZ  Policy = "workfirst_lazy"
)

// LoggerImpl selects the trace/stats back-end.
type LoggerImpl string

const (
	LoggerDummy LoggerImpl = "dummy"
	LoggerTrace LoggerImpl = "trace"
	LoggerStats LoggerImpl = "stats"
)

// Config is the resolved, validated set of ITYR_* knobs.
type Config struct {
	PrintEnv           bool
	BlockSize          uint64
	EnableWriteThrough bool
	DistPolicy         DistPolicy
	DisableCache       bool
	GetPut             bool
	Policy             Policy
	LoggerImpl         LoggerImpl
}

// Default mirrors the defaults documented in spec §6.
func Default() Config {
	return Config{
		BlockSize:  65536,
		DistPolicy: DistCyclic,
		Policy:     PolicyWorkFirst,
		LoggerImpl: LoggerDummy,
	}
}

// FromEnv resolves a Config from the process environment, applying defaults
// for anything unset. It never consults a third-party env-parsing library:
// the ITYR_* surface is eight scalar knobs with no nesting, so hand-parsing
// keeps the dependency footprint proportional to the problem (see
// DESIGN.md for the full justification).
func FromEnv() (Config, error) {
	c := Default()

	if v, ok := lookup("ITYR_PRINT_ENV"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: ITYR_PRINT_ENV: %w", err)
		}
		c.PrintEnv = b
	}

	if v, ok := lookup("ITYR_BLOCK_SIZE"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("config: ITYR_BLOCK_SIZE: invalid value %q", v)
		}
		c.BlockSize = n
	}

	if v, ok := lookup("ITYR_ENABLE_WRITE_THROUGH"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: ITYR_ENABLE_WRITE_THROUGH: %w", err)
		}
		c.EnableWriteThrough = b
	}

	if v, ok := lookup("ITYR_DIST_POLICY"); ok {
		switch DistPolicy(strings.ToLower(v)) {
		case DistCyclic:
			c.DistPolicy = DistCyclic
		case DistBlock:
			c.DistPolicy = DistBlock
		default:
			return Config{}, fmt.Errorf("config: ITYR_DIST_POLICY: unknown value %q", v)
		}
	}

	if v, ok := lookup("ITYR_IRO_DISABLE_CACHE"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: ITYR_IRO_DISABLE_CACHE: %w", err)
		}
		c.DisableCache = b
	}

	if v, ok := lookup("ITYR_IRO_GETPUT"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: ITYR_IRO_GETPUT: %w", err)
		}
		c.GetPut = b
	}

	if v, ok := lookup("ITYR_POLICY"); ok {
		switch Policy(strings.ToLower(v)) {
		case PolicySerial, PolicyNaive, PolicyWorkFirst, PolicyWorkFirstLZ:
			c.Policy = Policy(strings.ToLower(v))
		default:
			return Config{}, fmt.Errorf("config: ITYR_POLICY: unknown value %q", v)
		}
	}

	if v, ok := lookup("ITYR_LOGGER_IMPL"); ok {
		switch LoggerImpl(strings.ToLower(v)) {
		case LoggerDummy, LoggerTrace, LoggerStats:
			c.LoggerImpl = LoggerImpl(strings.ToLower(v))
		default:
			return Config{}, fmt.Errorf("config: ITYR_LOGGER_IMPL: unknown value %q", v)
		}
	}

	return c, nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func parseBool(v string) (bool, error) {
	switch v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("expected 0 or 1, got %q", v)
	}
}

// Lines renders the config as the key=value lines ITYR_PRINT_ENV echoes at
// startup.
func (c Config) Lines() []string {
	return []string{
		fmt.Sprintf("ITYR_BLOCK_SIZE=%d", c.BlockSize),
		fmt.Sprintf("ITYR_ENABLE_WRITE_THROUGH=%d", boolInt(c.EnableWriteThrough)),
		fmt.Sprintf("ITYR_DIST_POLICY=%s", c.DistPolicy),
		fmt.Sprintf("ITYR_IRO_DISABLE_CACHE=%d", boolInt(c.DisableCache)),
		fmt.Sprintf("ITYR_IRO_GETPUT=%d", boolInt(c.GetPut)),
		fmt.Sprintf("ITYR_POLICY=%s", c.Policy),
		fmt.Sprintf("ITYR_LOGGER_IMPL=%s", c.LoggerImpl),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
