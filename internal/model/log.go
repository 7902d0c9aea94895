package model

import "strings"

// LogLevel is the severity of a diagnostic log event.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "CRITICAL"}

func (l LogLevel) String() string {
	if l < LevelTrace || l > LevelCritical {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLogLevel parses a level name case-insensitively. "warning" is accepted for WARN.
func ParseLogLevel(s string) (LogLevel, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn, true
	}
	for i, name := range levelNames {
		if name == s {
			return LogLevel(i), true
		}
	}
	return LevelInfo, false
}
