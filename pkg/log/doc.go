// Package log provides structured logging for all burrow components,
// built on zerolog. It exposes a single global logger configured once
// at process startup plus helpers for deriving child loggers carrying
// contextual fields.
//
// # Usage
//
// Initialize once in main before any component starts:
//
//	log.Init(log.Config{
//		Level:      log.InfoLevel,
//		JSONOutput: true,
//	})
//
// Components take a child logger tagged with their name so every line
// can be traced back to its source:
//
//	logger := log.WithComponent("scheduler")
//	logger.Info().Str("challenge", name).Int("port", port).Msg("instance launched")
//
// Domain-specific helpers (WithChallenge, WithInstance, WithUser) add
// the fields that recur throughout the broker: the challenge name, the
// container ID, and the requesting user.
//
// # Output Modes
//
// JSONOutput true writes one JSON object per line, suitable for log
// shippers. False writes zerolog's human-readable console format with
// RFC3339 timestamps, suitable for development. The default output is
// stdout; tests inject a bytes.Buffer through Config.Output.
//
// # Levels
//
// Levels are the usual four (debug, info, warn, error) set globally via
// zerolog.SetGlobalLevel. An unknown level falls back to info.
package log
