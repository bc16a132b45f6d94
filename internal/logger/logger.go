package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"
)

var (
	levelVar slog.LevelVar
	current  atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	current.Store(newLogger(os.Stdout))
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

// SetOutput 重定向日志输出（测试中常指向 io.Discard）。
func SetOutput(w io.Writer) {
	current.Store(newLogger(w))
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func active() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	l := newLogger(os.Stdout)
	current.Store(l)
	return l
}

func Debugf(format string, v ...any) {
	active().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	active().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	active().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	active().Error(fmt.Sprintf(format, v...))
}
