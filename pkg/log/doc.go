// Package log provides structured, leveled logging for strand components.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default logger. Components attach identity once
// and reuse the derived logger:
//
//	logger := log.NewLogger(log.WithLevel(log.InfoLevel))
//	sublogger := logger.With(log.Component("subscription"))
//	sublogger.Debug("engine.deliver", log.Str("name", name), log.Uint64("pos", pos))
//
// Output is pluggable through the Formatter and Output interfaces; JSON and
// text formatters plus a console output are provided. RedirectStdLog routes
// standard-library log output (used by Pebble) through a Logger.
package log
