package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 构造全局日志器，level 不合法时回退到 info
func New(level string) *zap.SugaredLogger {
	lv, err := zapcore.ParseLevel(level)
	if err != nil {
		lv = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lv)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lg, err := cfg.Build()
	if err != nil {
		lg = zap.NewExample()
	}
	return lg.Sugar()
}

// Nop 返回不输出任何内容的日志器，测试用
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
