/*
Package log provides structured logging for Garcon using zerolog.

A single global logger is initialized once from configuration and
shared by all packages; components derive child loggers that stamp a
component field onto every line.

# Usage

Initializing (done by the serve command):

	log.Init(log.Config{
		Level:  log.ParseLevel(os.Getenv("LOG_LEVEL")),
		Pretty: cfg.LogPretty,
	})

Component loggers:

	logger := log.WithComponent("manager")
	logger.Info().Str("server_id", id).Msg("server started")

Output is JSON lines by default; LOG_PRETTY=true switches to the
zerolog console writer for local development.

Never log template RCON passwords or any other credential material.
*/
package log
