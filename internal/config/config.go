// Package config holds the thunk-layout and relaxation tunables as
// overridable defaults (max thunk distance, thunk group size,
// relax_tlsdesc, verbosity), loaded from the environment via
// github.com/xyproto/env/v2, a dependency already declared in go.mod
// but previously unused.
package config

import env "github.com/xyproto/env/v2"

// Config carries every tunable constant that a driver or test harness
// might reasonably want to override without a rebuild.
type Config struct {
	// MaxDistance is the farthest a thunk may sit from any section that
	// reaches it: a thunk is created no further than this from the
	// input sections it serves.
	MaxDistance int64
	// GroupSize is how many bytes of input sections get one thunk
	// group during layout.
	GroupSize int64
	// RelaxTLSDesc enables the TLSDESC-to-local-exec rewrite for local
	// TLS symbols.
	RelaxTLSDesc bool
	// Verbose toggles development-mode (human-readable) logging versus
	// production (warn-and-above) logging.
	Verbose bool
}

const (
	defaultMaxDistance = 100 * 1024 * 1024
	defaultGroupSize   = 10 * 1024 * 1024
)

// Load reads AARCH64LD_MAX_DISTANCE, AARCH64LD_GROUP_SIZE,
// AARCH64LD_RELAX_TLSDESC and AARCH64LD_VERBOSE from the environment,
// falling back to the package's literal defaults.
func Load() *Config {
	return &Config{
		MaxDistance:  int64(env.IntOr("AARCH64LD_MAX_DISTANCE", defaultMaxDistance)),
		GroupSize:    int64(env.IntOr("AARCH64LD_GROUP_SIZE", defaultGroupSize)),
		RelaxTLSDesc: env.BoolOr("AARCH64LD_RELAX_TLSDESC", true),
		Verbose:      env.BoolOr("AARCH64LD_VERBOSE", false),
	}
}

// Default returns the package's literal defaults without consulting the
// environment, for callers (tests, deterministic builds) that want
// fixed numbers.
func Default() *Config {
	return &Config{
		MaxDistance:  defaultMaxDistance,
		GroupSize:    defaultGroupSize,
		RelaxTLSDesc: true,
		Verbose:      false,
	}
}
