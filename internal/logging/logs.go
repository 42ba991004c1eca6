package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Printf-style helpers over the global zerolog logger. Call sites import
// this package as logs and keep messages in "pkg.Type.method key=value" form.

func Tracef(format string, args ...any) {
	log.Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	log.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	log.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	log.Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	log.Error().Msgf(format, args...)
}

// Logf writes without a level so it survives level filtering.
func Logf(format string, args ...any) {
	log.Log().Msgf(format, args...)
}

// Enabled reports whether lvl passes the global filter.
func Enabled(lvl zerolog.Level) bool {
	return lvl >= zerolog.GlobalLevel()
}
