package logger

import (
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFormat int

const (
	ColorizedOutput LogFormat = iota
	PlaintextOutput
	JSONOutput
)

type NamedLevel struct {
	Name  string `yaml:"name"`
	Level string `yaml:"level"`
}

type Config struct {
	Production     bool         `yaml:"production"`
	DefaultLevel   string       `yaml:"defaultLevel"`
	Levels         []NamedLevel `yaml:"levels"` // first match will be used
	AddOutputPaths []string     `yaml:"outputPaths"`
	DisableStdErr  bool         `yaml:"disableStdErr"`
	Format         LogFormat    `yaml:"format"`
}

func (l Config) zapConfig() zap.Config {
	var conf zap.Config
	if l.Production {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
	}
	encConfig := conf.EncoderConfig
	switch l.Format {
	case PlaintextOutput:
		encConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		conf.Encoding = "console"
	case JSONOutput:
		encConfig.MessageKey = "msg"
		encConfig.TimeKey = "ts"
		encConfig.LevelKey = "level"
		encConfig.NameKey = "logger"
		encConfig.CallerKey = "caller"
		encConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		conf.Encoding = "json"
	default:
		conf.Encoding = "console"
		encConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	conf.EncoderConfig = encConfig
	conf.OutputPaths = append(conf.OutputPaths, l.AddOutputPaths...)
	if l.DisableStdErr {
		conf.OutputPaths = slices.DeleteFunc(conf.OutputPaths, func(path string) bool {
			return path == "stderr"
		})
	}
	if defaultLevel, err := zap.ParseAtomicLevel(l.DefaultLevel); err == nil {
		conf.Level = defaultLevel
	}
	for _, v := range l.Levels {
		if lev, err := zap.ParseAtomicLevel(v.Level); err == nil && lev.Level() < conf.Level.Level() {
			conf.Level.SetLevel(lev.Level())
		}
	}
	return conf
}

// ApplyGlobal builds the logger described by l and makes it the default one.
func (l Config) ApplyGlobal() {
	conf := l.zapConfig()
	lg, err := conf.Build()
	if err != nil {
		Default().Fatal("can't build logger", zap.Error(err))
	}
	mu.Lock()
	loggerConfig = conf
	mu.Unlock()
	SetDefault(lg)
	SetNamedLevels(l.Levels)
}

// LevelsFromStr parses "name1=DEBUG;prefix*=WARN;ERROR" into named levels.
// An entry without a name applies to "*". Entries with an unknown level are skipped.
func LevelsFromStr(s string) (levels []NamedLevel) {
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		name, level, ok := strings.Cut(kv, "=")
		if !ok {
			name, level = "*", kv
		}
		if _, err := zap.ParseAtomicLevel(level); err != nil {
			Default().Warn("can't parse log level", zap.String("entry", kv), zap.Error(err))
			continue
		}
		levels = append(levels, NamedLevel{Name: strings.TrimSpace(name), Level: strings.TrimSpace(level)})
	}
	return levels
}
