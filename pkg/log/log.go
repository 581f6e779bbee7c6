// Copyright The agentcg Authors. All Rights Reserved.
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

// Package log provides named printf-style loggers for the rest of the
// daemon. Loggers are cheap to obtain and safe for concurrent use.
package log

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Logger is a named logger instance.
type Logger struct {
	entry   *logrus.Entry
	limiter *rate.Limiter
}

var (
	lock    sync.Mutex
	loggers = map[string]*Logger{}
	std     = newStdLogger()
)

func newStdLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		PadLevelText: true,
	})
	return l
}

// Get returns the named logger, creating it if necessary.
func Get(source string) *Logger {
	lock.Lock()
	defer lock.Unlock()

	if l, ok := loggers[source]; ok {
		return l
	}
	l := &Logger{
		entry: std.WithField("source", source),
		// repeated-warning throttle: one event per 5s, burst of 1
		limiter: rate.NewLimiter(rate.Limit(0.2), 1),
	}
	loggers[source] = l
	return l
}

// SetLevel sets the logging level by name ("debug", "info", ...).
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(parsed)
	return nil
}

// EnableDebug turns debug logging on or off globally.
func EnableDebug(enabled bool) {
	if enabled {
		std.SetLevel(logrus.DebugLevel)
	} else {
		std.SetLevel(logrus.InfoLevel)
	}
}

// DebugEnabled returns true if debug messages are emitted.
func (l *Logger) DebugEnabled() bool {
	return std.IsLevelEnabled(logrus.DebugLevel)
}

// Debug logs a formatted debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info logs a formatted informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs a formatted warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// WarnLimited logs a formatted warning, dropping it if an earlier one
// passed through recently. Meant for per-tick failure paths that would
// otherwise flood the log.
func (l *Logger) WarnLimited(format string, args ...interface{}) {
	if l.limiter.Allow() {
		l.entry.Warnf(format, args...)
	}
}

// Error logs a formatted error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Fatal logs a formatted error message and exits.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}
