// Package logger holds the process-wide log helpers.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var std = newDefault()

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

// Init configures level and, when a file is given, a rotating file sink next to stdout.
func Init(opts Options) {
	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	std.SetLevel(level)

	if opts.File == "" {
		std.SetOutput(os.Stdout)
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	std.SetOutput(io.MultiWriter(os.Stdout, rotator))
}

// Logger exposes the underlying logrus instance for libraries that want one.
func Logger() *logrus.Logger {
	return std
}

func LogDebug(format string, args ...interface{}) {
	std.Debugf("🔍 "+format, args...)
}

func LogInfo(format string, args ...interface{}) {
	std.Infof("ℹ️ "+format, args...)
}

func LogWarn(format string, args ...interface{}) {
	std.Warnf("⚠️ "+format, args...)
}

func LogError(format string, args ...interface{}) {
	std.Errorf("❌ "+format, args...)
}
