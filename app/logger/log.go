// Package logger keeps the process-wide zap logger and hands out named loggers.
// Levels of named loggers are configured by exact name or glob pattern ("snapshot.*").
package logger

import (
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

var (
	mu           sync.Mutex
	logger       *zap.Logger
	loggerConfig zap.Config
	namedLevels  []namedLevel
	namedLoggers = make(map[string]CtxLogger)
)

type namedLevel struct {
	name  string
	glob  glob.Glob
	level zap.AtomicLevel
}

func init() {
	loggerConfig = zap.NewDevelopmentConfig()
	logger, _ = loggerConfig.Build()
}

// SetDefault replaces the default logger.
// Call SetNamedLevels afterwards, already created named loggers keep the old core until then.
func SetDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	*logger = *l
}

// SetNamedLevels replaces the levels of named loggers and rebuilds the existing ones.
// The first matching entry wins.
func SetNamedLevels(nls []NamedLevel) {
	mu.Lock()
	defer mu.Unlock()
	namedLevels = namedLevels[:0]

	var minLevel = logger.Level()
	for _, nl := range nls {
		l, err := zap.ParseAtomicLevel(nl.Level)
		if err != nil {
			continue
		}
		entry := namedLevel{name: nl.Name, level: l}
		if g, err := glob.Compile(nl.Name); err == nil {
			entry.glob = g
		}
		namedLevels = append(namedLevels, entry)
		if l.Level() < minLevel {
			minLevel = l.Level()
		}
	}

	if minLevel < logger.Level() {
		// the core must pass everything the most verbose named logger wants
		loggerConfig.Level = zap.NewAtomicLevelAt(minLevel)
		logger, _ = loggerConfig.Build()
	}

	for name, nl := range namedLoggers {
		*(nl.Logger) = *newCore(name)
	}
}

func Default() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// getLevel must be called with mu held.
func getLevel(name string) zap.AtomicLevel {
	for _, nl := range namedLevels {
		if nl.name == name {
			return nl.level
		}
		if nl.glob != nil && nl.glob.Match(name) {
			return nl.level
		}
	}
	return zap.NewAtomicLevelAt(logger.Level())
}

func newCore(name string, fields ...zap.Field) *zap.Logger {
	return zap.New(logger.Core()).Named(name).WithOptions(
		zap.IncreaseLevel(getLevel(name)),
		zap.Fields(fields...),
	)
}

// NewNamed returns the logger registered under name, creating it on the first call.
func NewNamed(name string, fields ...zap.Field) CtxLogger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := namedLoggers[name]; ok {
		return l
	}
	l := CtxLogger{Logger: newCore(name, fields...), name: name}
	namedLoggers[name] = l
	return l
}
