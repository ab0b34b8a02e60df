package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxFieldLen caps the length of any single string field so a raw frame dump
// cannot flood the console.
const maxFieldLen = 500

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// SetLevel changes the global log level. Accepts zerolog level names
// ("debug", "info", "warn", "error"); unknown names are ignored.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return
	}
	mu.Lock()
	log = log.Level(lvl)
	mu.Unlock()
}

func emit(lvl zerolog.Level, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := log
	mu.RUnlock()

	ev := l.WithLevel(lvl).Str("component", component)
	for k, v := range fields {
		if s, ok := v.(string); ok && len(s) > maxFieldLen {
			v = s[:maxFieldLen] + "..."
		}
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func DebugC(component, msg string) { emit(zerolog.DebugLevel, component, msg, nil) }
func InfoC(component, msg string)  { emit(zerolog.InfoLevel, component, msg, nil) }
func WarnC(component, msg string)  { emit(zerolog.WarnLevel, component, msg, nil) }
func ErrorC(component, msg string) { emit(zerolog.ErrorLevel, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.DebugLevel, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.InfoLevel, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.WarnLevel, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.ErrorLevel, component, msg, fields)
}
