// Package config provides configuration management for the economy store.
//
// It utilizes Viper for loading configuration from environment variables and
// an optional .env file. Each subsystem declares its own partial Config next
// to the code that consumes it; this package only composes them.
//
// # Defaults
//
// Default values are declared as `default` struct tags on the partial config
// structs and registered with Viper before environment variables are applied,
// so every key resolves even in an empty environment.
//
// # Environment mapping
//
// Nested keys map to environment variables by replacing dots with
// underscores: database.uri becomes DATABASE_URI, economy.bounded_wait_ms
// becomes ECONOMY_BOUNDED_WAIT_MS.
package config
