// Package config provides loading and environment overlay for tubed daemon
// configuration. It exposes a Default() baseline, JSON/YAML file loading and
// a TUBED_* environment overlay; command-line flags are applied last by the
// caller.
//
// Example:
//
//	cfg, err := config.Load(config.DefaultConfigPath())
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
