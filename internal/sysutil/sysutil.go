// Package sysutil has process-level helpers for the CLI.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a LOG_LEVEL value and
// returns it. Blank or unknown names select info; ok is false only for
// unknown names.
func SetLogLevel(name string) (lvl zerolog.Level, ok bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		lvl, ok = zerolog.InfoLevel, true
	case "warning":
		lvl, ok = zerolog.WarnLevel, true
	default:
		parsed, err := zerolog.ParseLevel(name)
		lvl, ok = parsed, err == nil && parsed != zerolog.NoLevel
		if !ok {
			lvl = zerolog.InfoLevel
		}
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl, ok
}

// IsTruthy reports whether an env flag is switched on ("1", "true", "yes",
// "y" or "on", any case).
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
