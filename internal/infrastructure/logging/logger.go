package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Debugf(template string, args ...any)

	Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Infof(template string, args ...any)

	Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Warnf(template string, args ...any)

	Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Errorf(template string, args ...any)

	Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Fatalf(template string, args ...any)

	Sync() error
}

type LoggerConfig struct {
	FilePath string `koanf:"file_path"`
	Encoding string `koanf:"encoding"`
	Level    string `koanf:"level"`
	Logger   string `koanf:"logger"`
}

func NewLogger(cfg *LoggerConfig) (Logger, error) {
	switch cfg.Logger {
	case "", "zap":
		return newZapLogger(cfg), nil
	case "zerolog":
		return newZeroLogger(cfg), nil
	}

	return nil, fmt.Errorf("logger not supported: %q, supported loggers: [zap, zerolog]", cfg.Logger)
}

// output writes to stdout and, when FilePath is set, to a rotated log file.
func output(cfg *LoggerConfig) io.Writer {
	if cfg.FilePath == "" {
		return os.Stdout
	}

	filename := cfg.FilePath
	if ext := filepath.Ext(filename); ext == "" {
		filename = filepath.Join(filename, "roomdrop.log")
	}

	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})
}
