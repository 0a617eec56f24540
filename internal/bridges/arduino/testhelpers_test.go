package arduino

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/ccbc-core/internal/brewery"
)

const testEntities = `
TemperatureSensor,TSensor 1,28FFAC378217045A
TemperatureSensor,TSensor 2,28FF6AB585160484
PressureSensor,PSensor 1,0
Heater,Heater 1,13,TSensor 1
Heater,Heater 2,12,TSensor 2
Pump,Pump 1,4
`

// testClock is a manually advanced clock shared by the store and session.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, clock *testClock) *brewery.Store {
	t.Helper()
	store := brewery.NewStore(brewery.WithClock(clock.Now))
	if err := brewery.LoadEntities(strings.NewReader(testEntities), store, brewery.DefaultDefaults()); err != nil {
		t.Fatalf("LoadEntities() error = %v", err)
	}
	return store
}

// fakePort simulates the controller at the byte level. Each "!" queues the
// output of dump; "N=ON#" style commands update the pin table.
type fakePort struct {
	mu sync.Mutex

	dump   func(p *fakePort) string
	pins   map[int]int
	echo   bool
	writes []string
	rx     []byte

	writeErr error
	readErr  error // returned once rx is empty, then cleared
	closed   bool
	timeout  time.Duration
}

func newFakePort(dump func(p *fakePort) string) *fakePort {
	return &fakePort{dump: dump, pins: map[int]int{}}
}

// echoingDevice reports every digital pin it knows on each dump, after
// whatever extra lines are given.
func echoingDevice(extra ...string) func(p *fakePort) string {
	return func(p *fakePort) string {
		var b strings.Builder
		for _, l := range extra {
			b.WriteString(l + "\r\n")
		}
		for _, pin := range []int{4, 12, 13} {
			fmt.Fprintf(&b, "digitalpin:pin_num=%d;value=%d\r\n", pin, p.pins[pin])
		}
		return b.String()
	}
}

func staticDump(lines ...string) func(p *fakePort) string {
	return func(*fakePort) string {
		return strings.Join(lines, "\n") + "\n"
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	if len(p.rx) == 0 && p.readErr != nil {
		err := p.readErr
		p.readErr = nil
		return 0, err
	}
	n := copy(buf, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	msg := string(buf)
	p.writes = append(p.writes, msg)

	if msg == string(DumpRequest) {
		if p.dump != nil {
			p.rx = append(p.rx, p.dump(p)...)
		}
		return len(buf), nil
	}
	if pinStr, status, ok := strings.Cut(strings.TrimSuffix(msg, "#"), "="); ok {
		if pin, err := strconv.Atoi(pinStr); err == nil {
			if status == "ON" {
				p.pins[pin] = 1
			} else {
				p.pins[pin] = 0
			}
		}
	}
	return len(buf), nil
}

func (p *fakePort) Drain() error { return nil }

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	p.rx = nil
	p.mu.Unlock()
	return nil
}

func (p *fakePort) ResetOutputBuffer() error { return nil }

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) setWriteErr(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// takeWrites returns and clears the messages written so far.
func (p *fakePort) takeWrites() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.writes
	p.writes = nil
	return w
}

func openerFor(port *fakePort) PortOpener {
	return func(string, *serial.Mode) (Port, error) {
		return port, nil
	}
}

func newTestLink(port *fakePort) *SerialLink {
	return NewSerialLink(LinkConfig{Port: "/dev/ttyFAKE0", Opener: openerFor(port)})
}

type logEntry struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level, msg})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
