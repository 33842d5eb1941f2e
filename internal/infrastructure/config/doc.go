// Package config provides configuration loading for USB Power Core.
//
// Configuration is loaded from a YAML file with three layers of precedence:
//
//  1. Hardcoded defaults (Default)
//  2. YAML file values
//  3. USBPOWER_* environment variable overrides
//
// The loaded configuration is validated before use; an invalid configuration
// fails startup rather than producing surprising runtime behaviour.
package config
