package protocol

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/model"
)

func openSimulated(t *testing.T) *SimulatedConnection {
	t.Helper()

	conn := NewSimulatedConnection(&SimulatedConfig{Seed: 7}, zap.NewNop())
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func query(t *testing.T, conn Connection, command string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := conn.Write(ctx, []byte(command+"\n")); err != nil {
		t.Fatalf("Write(%q) returned error: %v", command, err)
	}

	var line []byte
	for {
		chunk, err := conn.Read(ctx, 4096)
		if err != nil {
			t.Fatalf("Read after %q returned error: %v", command, err)
		}
		line = append(line, chunk...)
		if idx := strings.IndexByte(string(line), '\n'); idx >= 0 {
			return string(line[:idx])
		}
	}
}

func TestSimulatedIdentify(t *testing.T) {
	conn := openSimulated(t)

	if got := query(t, conn, "ID?"); got != "TEK/TDS340,CF:91.1CT,FV:v1.00" {
		t.Fatalf("unexpected ID reply: %q", got)
	}
}

func TestSimulatedEventQueueDrains(t *testing.T) {
	conn := openSimulated(t)

	first := query(t, conn, "ALLE?")
	want := `2225,"MEASUREMENT ERROR, NO WAVEFORM TO MEASURE; ",420,"QUERY UNTERMINATED; "`
	if first != want {
		t.Fatalf("unexpected first ALLE? reply: %q", first)
	}

	if second := query(t, conn, "ALLE?"); second != simulatedEmptyQueue {
		t.Fatalf("expected empty queue, got %q", second)
	}
}

func TestSimulatedUnknownCommandQueuesEvent(t *testing.T) {
	conn := openSimulated(t)
	query(t, conn, "ALLE?")

	ctx := context.Background()
	if err := conn.Write(ctx, []byte("FOO:BAR 1\n")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	reply := query(t, conn, "ALLE?")
	if !strings.HasPrefix(reply, "113,") || !strings.Contains(reply, "FOO:BAR 1") {
		t.Fatalf("unexpected event reply: %q", reply)
	}
}

func TestSimulatedMeasurement(t *testing.T) {
	tests := []struct {
		measType string
		unit     string
	}{
		{"PK2PK", "V"},
		{"FREQ", "Hz"},
		{"PERI", "s"},
		{"MAXI", "V"},
		{"MINI", "V"},
	}

	conn := openSimulated(t)
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.measType, func(t *testing.T) {
			if err := conn.Write(ctx, []byte("MEASU:IMM:SOU CH2\nMEASU:IMM:TYPE "+tt.measType+"\n")); err != nil {
				t.Fatalf("Write returned error: %v", err)
			}

			value := query(t, conn, "MEASU:IMM:VAL?")
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				t.Fatalf("value %q is not a float: %v", value, err)
			}

			if unit := query(t, conn, "MEASU:IMM:UNI?"); unit != tt.unit {
				t.Fatalf("expected unit %q, got %q", tt.unit, unit)
			}
		})
	}
}

func TestSimulatedCurveAndPreamble(t *testing.T) {
	conn := openSimulated(t)
	ctx := context.Background()

	setup := "DAT:ENC ASCII\nDAT:SOU CH2\nDAT:START 1\nDAT:STOP 2500\nDAT:WID 2\n"
	if err := conn.Write(ctx, []byte(setup)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	samples := strings.Split(query(t, conn, "CURV?"), ",")
	if len(samples) != 2500 {
		t.Fatalf("expected 2500 samples, got %d", len(samples))
	}
	for i, s := range samples {
		v, err := strconv.Atoi(s)
		if err != nil {
			t.Fatalf("sample %d (%q) is not an integer", i, s)
		}
		if v < -3000 || v > 3000 {
			t.Fatalf("sample %d out of range: %d", i, v)
		}
	}

	want := "Ch2, DC coupling, 1.0E0 V/div, 5.0E-4 s/div, 2500 points, Sample mode"
	if got := query(t, conn, "WFMP:WFI?"); got != want {
		t.Fatalf("unexpected preamble: %q", got)
	}

	commands := conn.Commands()
	if len(commands) != 7 || commands[1] != "DAT:SOU CH2" {
		t.Fatalf("unexpected command history: %v", commands)
	}
}

func TestSimulatedReadHonoursContext(t *testing.T) {
	conn := openSimulated(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := conn.Read(ctx, 64); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSimulatedClosed(t *testing.T) {
	conn := NewSimulatedConnection(&SimulatedConfig{}, zap.NewNop())

	if conn.IsOpen() {
		t.Fatalf("new connection should not be open")
	}
	if err := conn.Write(context.Background(), []byte("ID?\n")); err == nil {
		t.Fatalf("expected error writing to closed connection")
	}
}

func TestTCPConnectionLoopback(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	go func() {
		server, err := listener.Accept()
		if err != nil {
			return
		}
		defer server.Close()

		reader := bufio.NewReader(server)
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if line == "ID?\n" {
			server.Write([]byte("TEK/TDS340\n"))
		}
		// hold the connection open until the client leaves
		reader.ReadString('\n')
	}()

	addr := listener.Addr().(*net.TCPAddr)
	conn := NewTCPConnection(&TCPConfig{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second}, zap.NewNop())
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer conn.Close()

	if got := query(t, conn, "ID?"); got != "TEK/TDS340" {
		t.Fatalf("unexpected reply: %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := conn.Read(ctx, 64); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	stats := conn.Stats()
	if !stats.IsConnected || stats.BytesWritten != 4 || stats.BytesRead != 11 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUSBTMCConnection(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing device", func(t *testing.T) {
		conn := NewUSBTMCConnection(&USBTMCConfig{Device: filepath.Join(dir, "usbtmc9")}, zap.NewNop())
		if err := conn.Open(context.Background()); err == nil {
			t.Fatalf("expected error for missing device")
		}
	})

	t.Run("directory", func(t *testing.T) {
		conn := NewUSBTMCConnection(&USBTMCConfig{Device: dir}, zap.NewNop())
		if err := conn.Open(context.Background()); err == nil {
			t.Fatalf("expected error for directory")
		}
	})

	t.Run("per-call file access", func(t *testing.T) {
		device := filepath.Join(dir, "usbtmc0")
		if err := os.WriteFile(device, []byte("previous reply\n"), 0o600); err != nil {
			t.Fatalf("failed to create device file: %v", err)
		}

		conn := NewUSBTMCConnection(&USBTMCConfig{Device: device}, zap.NewNop())
		if err := conn.Open(context.Background()); err != nil {
			t.Fatalf("Open returned error: %v", err)
		}
		defer conn.Close()

		ctx := context.Background()
		if err := conn.Write(ctx, []byte("ID?\n")); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}

		data, err := conn.Read(ctx, 64)
		if err != nil {
			t.Fatalf("Read returned error: %v", err)
		}
		if string(data) != "ID?\nious reply\n" {
			t.Fatalf("unexpected data: %q", data)
		}
		if conn.GetProtocolType() != model.ConnectionTypeUSBTMC {
			t.Fatalf("unexpected protocol type %s", conn.GetProtocolType())
		}
	})
}

func TestCreateConnection(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.InstrumentConfig
		wantType model.ConnectionType
		wantErr  bool
	}{
		{
			name:     "serial",
			cfg:      config.InstrumentConfig{ConnectionType: "SERIAL", Serial: config.SerialConfig{Port: "/dev/ttyUSB0"}},
			wantType: model.ConnectionTypeSerial,
		},
		{
			name:     "usbtmc",
			cfg:      config.InstrumentConfig{ConnectionType: "usbtmc", USBTMC: config.USBTMCConfig{Device: "/dev/usbtmc0"}},
			wantType: model.ConnectionTypeUSBTMC,
		},
		{
			name:     "tcp",
			cfg:      config.InstrumentConfig{ConnectionType: "TCP", TCP: config.TCPConfig{Host: "scope.lab", Port: 4000}},
			wantType: model.ConnectionTypeTCP,
		},
		{
			name:     "simulated",
			cfg:      config.InstrumentConfig{ConnectionType: "SIMULATED"},
			wantType: model.ConnectionTypeSimulated,
		},
		{
			name:    "tcp without host",
			cfg:     config.InstrumentConfig{ConnectionType: "TCP", TCP: config.TCPConfig{Port: 4000}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cfg:     config.InstrumentConfig{ConnectionType: "GPIB"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := CreateConnection(&tt.cfg, zap.NewNop())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got connection %T", conn)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateConnection returned error: %v", err)
			}
			if conn.GetProtocolType() != tt.wantType {
				t.Fatalf("expected %s, got %s", tt.wantType, conn.GetProtocolType())
			}
		})
	}
}
