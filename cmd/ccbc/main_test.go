package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/ccbc-core/internal/api"
	"github.com/nerrad567/ccbc-core/internal/bridges/arduino"
	"github.com/nerrad567/ccbc-core/internal/brewery"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/config"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/logging"
)

const testEntities = `# test rig
TemperatureSensor,TSensor 1,28FFAC378217045A
PressureSensor,PSensor 1,0
Heater,Heater 1,13,TSensor 1
Pump,Pump 1,4
`

// writeRig writes an entities file and a config that points at it.
func writeRig(t *testing.T, extra string) string {
	t.Helper()
	return writeRigAPI(t, "api:\n  enabled: false\n", extra)
}

func writeRigAPI(t *testing.T, apiSection, extra string) string {
	t.Helper()
	dir := t.TempDir()
	entities := filepath.Join(dir, "brewery.conf")
	if err := os.WriteFile(entities, []byte(testEntities), 0600); err != nil {
		t.Fatalf("writing entities: %v", err)
	}
	content := `
site:
  id: test-brewery
serial:
  port: "` + filepath.Join(dir, "no-such-tty") + `"
  startup_delay_ms: 0
brewery:
  entities_file: "` + entities + `"
database:
  enabled: true
  path: "` + filepath.Join(dir, "ccbc.db") + `"
mqtt:
  enabled: false
influxdb:
  enabled: false
` + apiSection + `logging:
  level: error
  format: text
  output: stdout
` + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("CCBC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingEntitiesFile(t *testing.T) {
	path := writeRig(t, "")
	t.Setenv("CCBC_CONFIG", path)
	t.Setenv("CCBC_BREWERY_ENTITIES_FILE", "/nonexistent/brewery.conf")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without an entities file")
	}
}

func TestRun_SerialOpenFailureIsFatal(t *testing.T) {
	for _, mode := range []string{config.ControlModeInline, config.ControlModeTimer} {
		t.Run(mode, func(t *testing.T) {
			t.Setenv("CCBC_CONFIG", writeRig(t, "control:\n  mode: "+mode+"\n  interval_ms: 100\n"))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			err := run(ctx)
			if !errors.Is(err, arduino.ErrLink) {
				t.Fatalf("run() error = %v, want ErrLink", err)
			}
		})
	}
}

func TestRun_APIStartFailureStopsLoops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	apiSection := fmt.Sprintf("api:\n  enabled: true\n  host: 127.0.0.1\n  port: %d\n", port)
	t.Setenv("CCBC_CONFIG", writeRigAPI(t, apiSection, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = run(ctx)
	if err == nil || !strings.Contains(err.Error(), "starting API server") {
		t.Fatalf("run() error = %v, want API start failure", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CCBC_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("CCBC_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}

func TestTelemetryOptions_DisabledSinksStayNil(t *testing.T) {
	cfg := &config.Config{
		Serial:    config.SerialConfig{PollIntervalMS: 1000, StaleAfterCycles: 3},
		Telemetry: config.TelemetryConfig{IntervalMS: 500},
		MQTT:      config.MQTTConfig{QoS: 1},
	}
	hub := api.NewHub(config.WebSocketConfig{}, logging.Discard())

	opts := telemetryOptions(cfg, brewery.NewStore(), nil, nil, hub, nil)

	if opts.MQTT != nil || opts.Influx != nil || opts.History != nil {
		t.Errorf("disabled sinks should be nil interfaces: %+v", opts)
	}
	if opts.Hub == nil {
		t.Error("hub not wired")
	}
	if opts.Interval != 500*time.Millisecond || opts.StaleAfter != 3*time.Second || opts.QoS != 1 {
		t.Errorf("timings = %v / %v / qos %d", opts.Interval, opts.StaleAfter, opts.QoS)
	}
}
