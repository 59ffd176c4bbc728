package logging

import (
	"fmt"
	"strings"

	golog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// SetLogLevels sets levels for the given systems. The "*" system applies the
// level to every registered subsystem.
func SetLogLevels(systems map[string]golog.LogLevel) error {
	for sys, level := range systems {
		l := zapcore.Level(level)
		if sys == "*" {
			for _, s := range golog.GetSubsystems() {
				if err := golog.SetLogLevel(s, l.CapitalString()); err != nil {
					return err
				}
			}
			continue
		}
		if err := golog.SetLogLevel(sys, l.CapitalString()); err != nil {
			return err
		}
	}
	return nil
}

// ParseLogLevels parses "system=level" pairs, e.g. "bidsd/store=debug".
func ParseLogLevels(pairs []string) (map[string]golog.LogLevel, error) {
	levels := make(map[string]golog.LogLevel, len(pairs))
	for _, p := range pairs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("log level %q should be system=level", p)
		}
		lvl, err := golog.LevelFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parsing level of %s: %s", parts[0], err)
		}
		levels[parts[0]] = lvl
	}
	return levels, nil
}
