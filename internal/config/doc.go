// Package config loads, normalizes, and validates narrator configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours NARRATOR_* environment overrides
// for secrets such as the synthesis API key and S3 credentials. The Config
// type centralizes every knob the daemon and CLI need, so storage locations,
// cache ceilings, and provider settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
