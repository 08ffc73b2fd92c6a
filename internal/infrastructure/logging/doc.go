// Package logging configures the slog logger shared by every component of
// the substation service.
//
// Records are JSON by default, or logfmt-style text when format is "text".
// Each one carries service and version attributes, a UTC timestamp, and has
// credentials masked: attributes named password, password_hash, token,
// secret or authorization are written as [REDACTED].
//
// With output set to "file", records go to a lumberjack rolling file:
//
//	logging:
//	  level: debug
//	  output: file
//	  file:
//	    path: ./logs/substation.log
//	    max_size: 50
//	    max_backups: 5
//	    max_age: 30
//
// Components derive a child logger once and keep it:
//
//	log := logger.With("component", "heartbeat")
package logging
