package log

import (
	"fmt"
	"strings"
)

type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	// Off disables all output; used by the discard logger.
	Off
)

func (l LogLevel) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Off:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// Parse converts a configuration string into a level.
func Parse(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return Debug, nil
	case "INFO":
		return Info, nil
	case "WARN", "WARNING":
		return Warn, nil
	case "ERROR":
		return Error, nil
	case "OFF", "NONE":
		return Off, nil
	default:
		return Info, fmt.Errorf("unknown log level %q", level)
	}
}
