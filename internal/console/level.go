// internal/console/level.go
package console

import (
	"strings"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
)

// Level is the normalized severity of a console entry.
type Level string

const (
	LevelLog   Level = "log"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// AllLevels is the default filter.
var AllLevels = []Level{LevelLog, LevelInfo, LevelWarn, LevelError, LevelDebug}

// levelForType maps a CDP console API type onto a Level. Types without a level of
// their own (table, dir, trace, count, ...) are plain logs.
func levelForType(apiType string) Level {
	switch apiType {
	case "warning", "warn":
		return LevelWarn
	case "error", "assert":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelLog
	}
}

// ParseLevels turns level names into a filter set. Empty input selects every level.
func ParseLevels(names []string) (map[Level]bool, error) {
	set := make(map[Level]bool, len(AllLevels))
	if len(names) == 0 {
		for _, l := range AllLevels {
			set[l] = true
		}
		return set, nil
	}

	valid := make(map[Level]bool, len(AllLevels))
	for _, l := range AllLevels {
		valid[l] = true
	}
	verr := &apperrors.ValidationError{}
	for i, name := range names {
		l := Level(strings.ToLower(strings.TrimSpace(name)))
		if l == "warning" {
			l = LevelWarn
		}
		if !valid[l] {
			verr.Add(fieldIndex("logLevels", i), "unknown level %q (want log, info, warn, error or debug)", name)
			continue
		}
		set[l] = true
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return set, nil
}
