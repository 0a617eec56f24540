package arduino

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Link defaults.
const (
	// DefaultBaudRate matches the firmware's Serial.begin.
	DefaultBaudRate = 9600

	// DefaultReadTimeout is how long one read waits for bytes. The device
	// prints its whole dump in a burst, so a read that times out empty
	// means the dump is over.
	DefaultReadTimeout = 50 * time.Millisecond

	// maxPendingBytes bounds a line that never sees a newline.
	maxPendingBytes = 4096

	readChunkSize = 256
)

// Port is the subset of serial.Port the link uses.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// PortOpener opens a serial device.
type PortOpener func(name string, mode *serial.Mode) (Port, error)

// OpenSerialPort opens a real serial device with go.bug.st/serial.
func OpenSerialPort(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Conn is the link as seen inside a Do critical section.
type Conn interface {
	// Write sends one message to the device.
	Write(p []byte) error

	// ReadLines collects complete lines until a read times out empty or
	// the window elapses.
	ReadLines(window time.Duration) ([]string, error)

	// Flush waits for queued output to be transmitted and discards any
	// unread input, including a partial line.
	Flush() error
}

// Link is a serial connection to the controller.
type Link interface {
	Open() error
	Close() error
	IsOpen() bool

	// Do runs fn with exclusive use of the link.
	Do(fn func(Conn) error) error

	// Name identifies the link in logs and health messages.
	Name() string
}

// LinkConfig holds serial link settings.
type LinkConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration

	// Opener defaults to OpenSerialPort.
	Opener PortOpener
}

// SerialLink is a Link over a serial port.
//
// Thread Safety: All methods are safe for concurrent use. Do holds the
// link mutex for the whole callback, so a dump request and its responses
// are never interleaved with another writer.
type SerialLink struct {
	cfg LinkConfig

	mu      sync.Mutex
	port    Port
	pending []byte
}

// NewSerialLink creates a closed link.
func NewSerialLink(cfg LinkConfig) *SerialLink {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenSerialPort
	}
	return &SerialLink{cfg: cfg}
}

// Name returns the serial device path.
func (l *SerialLink) Name() string {
	return l.cfg.Port
}

// Open opens the port at 8N1 and sets the read timeout.
// Opening an open link is a no-op.
func (l *SerialLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: l.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := l.cfg.Opener(l.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %s", ErrLink, l.cfg.Port, describePortError(err))
	}
	if err := port.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: set read timeout on %s: %v", ErrLink, l.cfg.Port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: reset input on %s: %v", ErrLink, l.cfg.Port, err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: reset output on %s: %v", ErrLink, l.cfg.Port, err)
	}

	l.port = port
	l.pending = l.pending[:0]
	return nil
}

// Close releases the port. Closing a closed link is a no-op.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.pending = nil
	if err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrLink, l.cfg.Port, err)
	}
	return nil
}

// IsOpen reports whether the port is open.
func (l *SerialLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Do runs fn while holding the link.
func (l *SerialLink) Do(fn func(Conn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrNotOpen
	}
	return fn(serialConn{l})
}

// serialConn is only handed out while l.mu is held.
type serialConn struct {
	l *SerialLink
}

func (c serialConn) Write(p []byte) error {
	for len(p) > 0 {
		n, err := c.l.port.Write(p)
		if err != nil {
			return fmt.Errorf("%w: write: %v", ErrLink, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: write: no progress", ErrLink)
		}
		p = p[n:]
	}
	return nil
}

func (c serialConn) ReadLines(window time.Duration) ([]string, error) {
	l := c.l
	deadline := time.Now().Add(window)
	chunk := make([]byte, readChunkSize)
	var lines []string

	for time.Now().Before(deadline) {
		n, err := l.port.Read(chunk)
		if err != nil {
			return lines, fmt.Errorf("%w: read: %v", ErrLink, err)
		}
		if n == 0 {
			break
		}
		l.pending = append(l.pending, chunk[:n]...)

		for {
			i := bytes.IndexByte(l.pending, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(l.pending[:i]))
			l.pending = l.pending[i+1:]
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(l.pending) > maxPendingBytes {
			l.pending = l.pending[:0]
		}
	}
	return lines, nil
}

func (c serialConn) Flush() error {
	l := c.l
	l.pending = l.pending[:0]
	if err := l.port.Drain(); err != nil {
		return fmt.Errorf("%w: drain: %v", ErrLink, err)
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: reset input: %v", ErrLink, err)
	}
	return nil
}

// describePortError turns serial.PortError codes into operator hints.
// The library returns the error by pointer on some platforms and by value
// on others.
func describePortError(err error) string {
	var portErr serial.PortError
	if ptr := (*serial.PortError)(nil); errors.As(err, &ptr) && ptr != nil {
		portErr = *ptr
	} else if !errors.As(err, &portErr) {
		return err.Error()
	}

	switch portErr.Code() {
	case serial.PortNotFound:
		return "port not found (is the controller plugged in?)"
	case serial.PortBusy:
		return "port busy (another program has it open)"
	case serial.PermissionDenied:
		return "permission denied (add the user to the dialout group)"
	case serial.InvalidSpeed:
		return "baud rate not supported"
	default:
		return portErr.EncodedErrorString()
	}
}
