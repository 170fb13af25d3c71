// internal/logging/testing.go
package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger whose entries are kept in memory for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger observes every level, trace included.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// GateMessages lists, in order, the messages logged with gate=name.
func (t *TestLogger) GateMessages(name string) []string {
	var out []string
	for _, e := range t.observed.FilterField(zap.String("gate", name)).All() {
		out = append(out, e.Message)
	}
	return out
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.observed.FilterLevelExact(level).FilterMessageSnippet(msg).Len() > 0 {
		return
	}
	var seen []string
	for _, e := range t.observed.All() {
		seen = append(seen, e.Level.String()+": "+e.Message)
	}
	tb.Errorf("no %v entry containing %q in:\n%s", level, msg, strings.Join(seen, "\n"))
}

// AssertField fails tb unless an entry for msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		got, ok := e.ContextMap()[key]
		if !ok {
			continue
		}
		if reflect.DeepEqual(got, want) {
			return
		}
		if n, isInt := want.(int); isInt && reflect.DeepEqual(got, int64(n)) {
			return
		}
	}
	tb.Errorf("field %q=%v not found on %q", key, want, msg)
}
