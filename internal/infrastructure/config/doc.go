// Package config loads service configuration from the environment.
//
// Every setting has a default, so the service starts with no environment at
// all; on Lambda the function configuration supplies overrides such as
// COLLECTOR_ADDR or COLLECTOR_CONFIG_BUCKET.
package config
