// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package base wraps logrus behind a small LogObject type, the way the
// teacher daemon injects a *base.LogObject into every collaborator
// instead of reaching for a package-level logger.
package base

import (
	"github.com/sirupsen/logrus"
)

// LogObject is injected into every component that needs to log. It
// carries a set of default fields (e.g. the component name) that are
// attached to every record emitted through it.
type LogObject struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewSourceLogObject creates a LogObject tagged with the given source
// component name and an arbitrary identifying id (pid, session id, ...).
func NewSourceLogObject(logger *logrus.Logger, source string, id int) *LogObject {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogObject{
		logger: logger,
		fields: logrus.Fields{"source": source, "id": id},
	}
}

// Clone returns a LogObject sharing the same logger but an independent
// copy of the field set, so that CloneAndAddField does not mutate the
// parent's fields.
func (l *LogObject) Clone() *LogObject {
	fields := make(logrus.Fields, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &LogObject{logger: l.logger, fields: fields}
}

// CloneAndAddField clones this LogObject and attaches an extra field.
func (l *LogObject) CloneAndAddField(key string, value interface{}) *LogObject {
	clone := l.Clone()
	clone.fields[key] = value
	return clone
}

func (l *LogObject) entry() *logrus.Entry {
	return l.logger.WithFields(l.fields)
}

// Tracef logs at trace level: very verbose, per-message detail.
func (l *LogObject) Tracef(format string, args ...interface{}) {
	l.entry().Tracef(format, args...)
}

// Functionf logs at debug level: function-entry/exit style detail.
func (l *LogObject) Functionf(format string, args ...interface{}) {
	l.entry().Debugf(format, args...)
}

// Noticef logs at info level: notable but expected events.
func (l *LogObject) Noticef(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

// Notice logs a notable event without formatting.
func (l *LogObject) Notice(args ...interface{}) {
	l.entry().Info(args...)
}

// Warnf logs at warn level.
func (l *LogObject) Warnf(format string, args ...interface{}) {
	l.entry().Warnf(format, args...)
}

// Errorf logs at error level.
func (l *LogObject) Errorf(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}

// Error logs an error value at error level.
func (l *LogObject) Error(args ...interface{}) {
	l.entry().Error(args...)
}

// Fatal logs at fatal level and terminates the process, matching the
// teacher's use of Log.Fatal for unrecoverable startup errors.
func (l *LogObject) Fatal(args ...interface{}) {
	l.entry().Fatal(args...)
}
