package server

// Config holds configuration for the health/status HTTP server.
type Config struct {
	// Enabled toggles the HTTP surface entirely.
	Enabled bool `mapstructure:"enabled" default:"true"`
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
}
