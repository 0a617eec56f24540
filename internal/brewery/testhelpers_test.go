package brewery

import (
	"strings"
	"testing"
	"time"
)

const testEntities = `
# Test rig
TemperatureSensor,TSensor 1,28FFAC378217045A
TemperatureSensor,TSensor 2,28FF6AB585160484
PressureSensor,PSensor 1,0
Heater,Heater 1,13,TSensor 1
Heater,Heater 2,12,TSensor 2
Pump,Pump 1,4
`

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// newTestStore builds the two-probe rig used across the package tests.
func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testEpoch })}, opts...)
	store := NewStore(opts...)
	if err := LoadEntities(strings.NewReader(testEntities), store, DefaultDefaults()); err != nil {
		t.Fatalf("LoadEntities() error = %v", err)
	}
	return store
}

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(string, ...any)       {}
func (l *recordingLogger) Info(string, ...any)        {}
func (l *recordingLogger) Warn(msg string, _ ...any) { l.warnings = append(l.warnings, msg) }
func (l *recordingLogger) Error(string, ...any)       {}
