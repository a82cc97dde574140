// Package config holds the parsed CLI options for a taskwatch invocation.
package config

// Options is the fully-parsed set of flags a taskwatch run was started
// with.
type Options struct {
	ScriptFile string
	Update     bool
	Verbose    bool

	// HTTPAddr, when non-empty, starts the loopback introspection API on
	// this address (e.g. "127.0.0.1:4567").
	HTTPAddr string

	// RedisAddr, when non-empty, enables the run-history store against a
	// Redis instance at this address.
	RedisAddr string
	RedisDB   int

	// MaxConcurrentTasks bounds how many task pipelines may run at once
	// across the whole script. Zero means unbounded.
	MaxConcurrentTasks int
}
