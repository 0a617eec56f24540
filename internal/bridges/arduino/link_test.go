package arduino

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.bug.st/serial"
)

func TestSerialLink_OpenClose(t *testing.T) {
	port := newFakePort(nil)
	var gotMode *serial.Mode
	link := NewSerialLink(LinkConfig{
		Port: "/dev/ttyFAKE0",
		Opener: func(name string, mode *serial.Mode) (Port, error) {
			gotMode = mode
			return port, nil
		},
	})

	if link.IsOpen() {
		t.Fatal("new link reports open")
	}
	if err := link.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := link.Open(); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if !link.IsOpen() {
		t.Error("IsOpen() = false after Open")
	}

	want := &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	if diff := cmp.Diff(want, gotMode); diff != "" {
		t.Errorf("serial mode (-want +got):\n%s", diff)
	}
	if port.timeout != DefaultReadTimeout {
		t.Errorf("read timeout = %v, want %v", port.timeout, DefaultReadTimeout)
	}

	if err := link.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !port.isClosed() {
		t.Error("port not closed")
	}
}

func TestSerialLink_DoRequiresOpen(t *testing.T) {
	link := newTestLink(newFakePort(nil))
	err := link.Do(func(Conn) error { return nil })
	if !errors.Is(err, ErrNotOpen) {
		t.Errorf("Do() error = %v, want ErrNotOpen", err)
	}
}

func TestSerialLink_ReadLines(t *testing.T) {
	port := newFakePort(staticDump(tsensorLine, "", "  analogpin:pin_num=0;value=1.00  "))
	link := newTestLink(port)
	if err := link.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer link.Close()

	var lines []string
	err := link.Do(func(c Conn) error {
		if err := c.Write(DumpRequest); err != nil {
			return err
		}
		var err error
		lines, err = c.ReadLines(time.Second)
		return err
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	want := []string{tsensorLine, "analogpin:pin_num=0;value=1.00"}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("ReadLines() (-want +got):\n%s", diff)
	}
}

func TestSerialLink_ReadLinesAcrossChunks(t *testing.T) {
	long := "heater:name=" + strings.Repeat("x", readChunkSize+10) + ";index=0"
	port := newFakePort(staticDump(long, tsensorLine))
	link := newTestLink(port)
	_ = link.Open()
	defer link.Close()

	var lines []string
	_ = link.Do(func(c Conn) error {
		_ = c.Write(DumpRequest)
		lines, _ = c.ReadLines(time.Second)
		return nil
	})

	if len(lines) != 2 || lines[0] != long || lines[1] != tsensorLine {
		t.Errorf("ReadLines() = %d lines, want the long line intact then the probe", len(lines))
	}
}

func TestSerialLink_FlushDropsPartialLine(t *testing.T) {
	port := newFakePort(func(*fakePort) string { return "Tsensor:index=0;ser" })
	link := newTestLink(port)
	_ = link.Open()
	defer link.Close()

	_ = link.Do(func(c Conn) error {
		_ = c.Write(DumpRequest)
		lines, _ := c.ReadLines(time.Second)
		if len(lines) != 0 {
			t.Errorf("ReadLines() = %v, want no complete lines", lines)
		}
		return c.Flush()
	})

	port.dump = staticDump(tsensorLine)
	var lines []string
	_ = link.Do(func(c Conn) error {
		_ = c.Write(DumpRequest)
		lines, _ = c.ReadLines(time.Second)
		return nil
	})
	if len(lines) != 1 || lines[0] != tsensorLine {
		t.Errorf("ReadLines() after Flush = %v, want only the fresh line", lines)
	}
}

func TestSerialLink_WriteError(t *testing.T) {
	port := newFakePort(nil)
	link := newTestLink(port)
	_ = link.Open()
	defer link.Close()

	port.setWriteErr(errors.New("i/o error"))
	err := link.Do(func(c Conn) error { return c.Write(DumpRequest) })
	if !errors.Is(err, ErrLink) {
		t.Errorf("Write() error = %v, want ErrLink", err)
	}
}

func TestSerialLink_OpenError(t *testing.T) {
	link := NewSerialLink(LinkConfig{
		Port: "/dev/ttyNONE",
		Opener: func(string, *serial.Mode) (Port, error) {
			return nil, fmt.Errorf("no such device")
		},
	})
	err := link.Open()
	if !errors.Is(err, ErrLink) {
		t.Fatalf("Open() error = %v, want ErrLink", err)
	}
	if !strings.Contains(err.Error(), "/dev/ttyNONE") {
		t.Errorf("Open() error %q does not name the port", err)
	}
	if link.IsOpen() {
		t.Error("IsOpen() = true after failed Open")
	}
}
