package logger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var levelStrings = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
}

type LevelFlagValue struct {
	onLevelAvailable func(zapcore.Level)
	value            string
}

func NewLevelFlagValue(onLevelAvailable func(zapcore.Level)) LevelFlagValue {
	return LevelFlagValue{onLevelAvailable: onLevelAvailable}
}

// StringToLevel parses a level name or a positive V-level.
func StringToLevel(value string, defaultLevel zapcore.Level) (zapcore.Level, error) {
	if level, ok := levelStrings[strings.ToLower(value)]; ok {
		return level, nil
	}

	v, err := strconv.Atoi(value)
	if err != nil || v <= 0 {
		return defaultLevel, fmt.Errorf("invalid log level %q", value)
	}
	// zap counts verbosity downwards
	return zapcore.Level(int8(-v)), nil
}

func (lfv *LevelFlagValue) Set(flagValue string) error {
	level, err := StringToLevel(flagValue, zapcore.InfoLevel)
	if err != nil {
		return err
	}
	lfv.onLevelAvailable(level)
	lfv.value = flagValue
	return nil
}

func (lfv *LevelFlagValue) String() string {
	return lfv.value
}

func (*LevelFlagValue) Type() string {
	return "level"
}

// VerbosityArgs returns the verbosity flag to hand to child processes.
func VerbosityArgs(fs *pflag.FlagSet) []string {
	if fs == nil {
		return nil
	}
	f := fs.Lookup(verbosityFlagName)
	if f == nil || f.Value.String() == "" {
		return nil
	}
	return []string{"--" + verbosityFlagName + "=" + f.Value.String()}
}

var _ pflag.Value = &LevelFlagValue{}
