package engine

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/config"
)

// NewLogger builds a zap logger from the log section of the configuration.
// Output is stdout, stderr or a file path.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Output != "" {
		zapCfg.OutputPaths = []string{cfg.Output}
	}

	return zapCfg.Build()
}

// BadgerLogger routes badger's log lines through zap.
type BadgerLogger struct {
	sugar *zap.SugaredLogger
}

// NewBadgerLogger wraps l for badger.Options.Logger.
func NewBadgerLogger(l *zap.Logger) *BadgerLogger {
	return &BadgerLogger{sugar: l.Sugar()}
}

func (b *BadgerLogger) Errorf(format string, args ...any) {
	b.sugar.Error(trimLine(format, args))
}

func (b *BadgerLogger) Warningf(format string, args ...any) {
	b.sugar.Warn(trimLine(format, args))
}

// Infof logs at debug level; badger is chatty about compactions.
func (b *BadgerLogger) Infof(format string, args ...any) {
	b.sugar.Debug(trimLine(format, args))
}

func (b *BadgerLogger) Debugf(format string, args ...any) {
	b.sugar.Debug(trimLine(format, args))
}

func trimLine(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
