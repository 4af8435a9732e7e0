// log/log.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package log provides the structured logger used throughout enroute. It
// writes JSON records to a size-rotated file and attaches the caller's
// stack to every record.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "enroute.slog"

// Logger wraps slog.Logger. All of its logging methods accept a nil
// receiver: debug and info records are then dropped while warnings and
// errors still go to slog's default logger.
type Logger struct {
	*slog.Logger

	// Dir holds the log file and crash reports.
	Dir  string
	File string
}

// ParseLevel maps the -loglevel flag values to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%s: invalid log level", s)
	}
}

// DefaultDir is the Enroute directory in the user's config directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to find user config dir: %v\n", err)
		dir = "."
	}
	return filepath.Join(dir, "Enroute")
}

// New returns a Logger writing to enroute.slog in dir, or in DefaultDir()
// if dir is empty.
func New(level string, dir string) *Logger {
	if dir == "" {
		dir = DefaultDir()
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    32, // MB
		MaxBackups: 1,
	}
	if lvl <= slog.LevelDebug {
		// Map downloads are chatty at debug level.
		w.MaxSize = 512
	}

	l := &Logger{
		Logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})),
		Dir:    dir,
		File:   w.Filename,
	}
	l.logStartup()
	return l
}

func (l *Logger) logStartup() {
	system := []any{
		slog.String("GOOS", runtime.GOOS),
		slog.String("GOARCH", runtime.GOARCH),
		slog.Int("NumCPUs", runtime.NumCPU()),
	}
	if ci, err := cpu.Info(); err == nil && len(ci) > 0 {
		system = append(system, slog.String("CPU", ci[0].ModelName))
	}
	l.Info("enroute starting", slog.Time("start", time.Now()), slog.Group("system", system...))

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	var deps []any
	for _, dep := range bi.Deps {
		if dep.Replace != nil {
			dep = dep.Replace
		}
		deps = append(deps, slog.String(dep.Path, dep.Version))
	}
	l.Info("build",
		slog.String("go", bi.GoVersion),
		slog.String("main", bi.Main.Path+"@"+bi.Main.Version),
		slog.Group("dependencies", deps...))
}

// log is the common path of the level methods below; it must be called
// directly from them so that the recorded call stack starts at their
// caller.
func (l *Logger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if l == nil {
		if level >= slog.LevelWarn {
			slog.Default().Log(ctx, level, msg, append(args, slog.Any("callstack", callstack(2)))...)
		}
		return
	}
	if l.Logger.Enabled(ctx, level) {
		l.Logger.Log(ctx, level, msg, append([]any{slog.Any("callstack", callstack(2))}, args...)...)
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

// The *f variants log a formatted message without attributes.

func (l *Logger) Debugf(msg string, args ...any) { l.log(slog.LevelDebug, fmt.Sprintf(msg, args...), nil) }
func (l *Logger) Infof(msg string, args ...any) { l.log(slog.LevelInfo, fmt.Sprintf(msg, args...), nil) }
func (l *Logger) Warnf(msg string, args ...any) { l.log(slog.LevelWarn, fmt.Sprintf(msg, args...), nil) }
func (l *Logger) Errorf(msg string, args ...any) { l.log(slog.LevelError, fmt.Sprintf(msg, args...), nil) }

// CatchAndReportCrash is deferred at the top of main. If a panic is in
// flight, it logs it, prints a report and saves the report next to the
// log file.
func (l *Logger) CatchAndReportCrash() any {
	// Let the debugger see the panic.
	if dlv, ok := os.LookupEnv("_"); ok && strings.HasSuffix(dlv, "/dlv") {
		return nil
	}

	err := recover()
	if err == nil {
		return nil
	}
	l.Errorf("Crashed: %v", err)

	var report strings.Builder
	fmt.Fprintf(&report, "enroute crashed: %v\n", err)
	fmt.Fprintf(&report, "System: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(&report, "Build: %s %s\n", bi.Main.Version, bi.GoVersion)
		for _, setting := range bi.Settings {
			fmt.Fprintf(&report, "  %s=%s\n", setting.Key, setting.Value)
		}
	}
	report.Write(debug.Stack())
	fmt.Fprintln(os.Stderr, report.String())

	if l != nil {
		fn := filepath.Join(l.Dir, "crash-"+time.Now().Format("2006-01-02T15-04-05")+".txt")
		if werr := os.WriteFile(fn, []byte(report.String()), 0o600); werr == nil {
			fmt.Fprintf(os.Stderr, "Crash report saved to %s; the log is in %s\n", fn, l.File)
		}
	}
	return err
}
