// Copyright The PagePool Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/klog/v2"
)

// Level describes the severity of a log message.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for a source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and exits the process.
	Fatal(format string, args ...interface{})

	// Warnf is an alias for Warn, Errorf for Error.
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Println emits a message at info severity. It makes a Logger
	// usable as an error logger for external packages.
	Println(v ...interface{})

	// DebugEnabled checks if debug messages are enabled for the logger.
	DebugEnabled() bool
	// Source returns the source of the logger.
	Source() string
	// SlogHandler returns an slog.Handler backed by the logger.
	SlogHandler() slog.Handler
}

// logging tracks our shared logging state: active loggers, per-source
// debug flags, and message prefixing.
type logging struct {
	sync.RWMutex
	level   Level
	prefix  bool
	dbgmap  srcmap
	loggers map[string]logger
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

var (
	log = &logging{
		level:   DefaultLevel,
		loggers: make(map[string]logger),
	}
	deflog = log.get("default")
)

// Get returns the Logger for the given source, creating it if necessary.
func Get(source string) Logger {
	log.Lock()
	defer log.Unlock()
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return Get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// EnableDebug enables or disables debug messages for the given source,
// returning the previous state.
func EnableDebug(source string, enabled bool) bool {
	log.Lock()
	defer log.Unlock()

	prev := log.dbgmap[source]
	if log.dbgmap == nil {
		log.dbgmap = make(srcmap)
	}
	log.dbgmap[source] = enabled

	return prev
}

// Flush flushes any pending log messages.
func Flush() {
	klog.Flush()
}

// get returns the logger for a source. Called with log locked, or
// during package initialization.
func (l *logging) get(source string) logger {
	if lg, ok := l.loggers[source]; ok {
		return lg
	}
	lg := logger{source: source}
	l.loggers[source] = lg
	return lg
}

func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
}

func (l *logging) setPrefix(enabled bool) {
	l.prefix = enabled
}

// debugging checks whether debugging is enabled for a source. Called
// with log read-locked.
func (l *logging) debugging(source string) bool {
	if l.level <= LevelDebug {
		return true
	}
	if enabled, ok := l.dbgmap[source]; ok {
		return enabled
	}
	return l.dbgmap["*"]
}

func (l logger) format(msg string) string {
	log.RLock()
	prefix := log.prefix
	log.RUnlock()

	if !prefix {
		return msg
	}
	return "[" + l.source + "] " + msg
}

// Debug formats and emits a debug message.
func (l logger) Debug(format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	klog.InfoDepth(1, l.format("D: "+fmt.Sprintf(format, args...)))
}

// Info formats and emits an informational message.
func (l logger) Info(format string, args ...interface{}) {
	klog.InfoDepth(1, l.format(fmt.Sprintf(format, args...)))
}

// Warn formats and emits a warning message.
func (l logger) Warn(format string, args ...interface{}) {
	klog.WarningDepth(1, l.format(fmt.Sprintf(format, args...)))
}

// Error formats and emits an error message.
func (l logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, l.format(fmt.Sprintf(format, args...)))
}

// Fatal formats and emits an error message and exits the process.
func (l logger) Fatal(format string, args ...interface{}) {
	klog.FatalDepth(1, l.format(fmt.Sprintf(format, args...)))
}

// Warnf is an alias for Warn.
func (l logger) Warnf(format string, args ...interface{}) {
	klog.WarningDepth(1, l.format(fmt.Sprintf(format, args...)))
}

// Errorf is an alias for Error.
func (l logger) Errorf(format string, args ...interface{}) {
	klog.ErrorDepth(1, l.format(fmt.Sprintf(format, args...)))
}

// Println emits a message at info severity.
func (l logger) Println(v ...interface{}) {
	klog.InfoDepth(1, l.format(fmt.Sprint(v...)))
}

// DebugEnabled checks if debug messages are enabled for the logger.
func (l logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return log.debugging(l.source)
}

// Source returns the source of the logger.
func (l logger) Source() string {
	return l.source
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("log: "+format, args...)
}
