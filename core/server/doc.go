// Package server holds configuration for the health/status HTTP endpoint.
//
// The data layer itself has no HTTP API; the host process consumes it in
// process through the repository. The only web surface is an operational
// health route wired up by the start command.
package server
