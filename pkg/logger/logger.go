/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if os.Getenv("CHEF_DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}
}

// SetOutput redirects all chef logging, used by daemons that log to a
// file.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetVerbose enables debug-level logging.
func SetVerbose(verbose bool) {
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// WithFields returns a structured entry, for daemon-side logging.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return log.WithFields(logrus.Fields(fields))
}

// WithField returns a structured entry with a single field.
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

func Printf(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Println(args ...interface{}) {
	log.Infoln(args...)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
