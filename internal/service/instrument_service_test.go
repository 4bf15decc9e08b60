package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"scope-service/internal/config"
	"scope-service/internal/eventlog"
	"scope-service/internal/export"
	"scope-service/internal/model"
	"scope-service/internal/monitor"
	"scope-service/internal/repository"
)

func testConfig(connectionType string) *config.Config {
	return &config.Config{
		Instrument: config.InstrumentConfig{
			ConnectionType:   connectionType,
			ReadTimeout:      2 * time.Second,
			CurveReadTimeout: 5 * time.Second,
			MaxLineLength:    65536,
			Simulated:        config.SimulatedConfig{Seed: 11},
			TCP:              config.TCPConfig{Host: "127.0.0.1", Port: 1, ConnectTimeout: 200 * time.Millisecond},
		},
		EventLog: config.EventLogConfig{Capacity: 1000},
	}
}

func newTestService(t *testing.T, connectionType string) *InstrumentService {
	t.Helper()
	return newTestServiceWithConfig(t, testConfig(connectionType))
}

func newTestServiceWithConfig(t *testing.T, cfg *config.Config) *InstrumentService {
	t.Helper()

	logger := zaptest.NewLogger(t)
	svc := NewInstrumentService(
		repository.NewAcquisitionRepository(logger),
		eventlog.NewJournal(cfg.EventLog.Capacity, logger),
		monitor.NewMetrics(zap.NewNop()),
		cfg,
		logger,
	)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func connect(t *testing.T, svc *InstrumentService) *InstrumentStatus {
	t.Helper()

	status, err := svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	return status
}

func TestConnectIdentifies(t *testing.T) {
	svc := newTestService(t, "SIMULATED")

	status := connect(t, svc)
	if !status.Connected || status.ConnectionType != model.ConnectionTypeSimulated {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Instrument == nil || status.Instrument.Model != "TDS340" {
		t.Fatalf("expected identified instrument, got %+v", status.Instrument)
	}

	events := svc.Journal().Snapshot(0)
	if len(events) != 2 || events[0].String() != "-> ID?" {
		t.Fatalf("expected identify exchange in journal, got %v", events)
	}

	// connecting again keeps the session
	again := connect(t, svc)
	if again.ConnectedAt == nil || !again.ConnectedAt.Equal(*status.ConnectedAt) {
		t.Fatalf("expected the same session after reconnect")
	}
}

func TestConnectFailure(t *testing.T) {
	svc := newTestService(t, "TCP")

	if _, err := svc.Connect(context.Background()); !errors.Is(err, model.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if svc.IsConnected() {
		t.Fatalf("service should not be connected")
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	svc := newTestService(t, "SIMULATED")
	ctx := context.Background()

	if _, err := svc.Identify(ctx); !errors.Is(err, model.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := svc.Measure(ctx, model.ChannelCH1, model.MeasurementFrequency); !errors.Is(err, model.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	acquisition, err := svc.CreateAcquisition(ctx)
	if err != nil {
		t.Fatalf("CreateAcquisition returned error: %v", err)
	}
	if _, err := svc.Capture(ctx, acquisition.ID, nil); !errors.Is(err, model.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestMeasureAndEvents(t *testing.T) {
	svc := newTestService(t, "SIMULATED")
	connect(t, svc)
	ctx := context.Background()

	m, err := svc.Measure(ctx, model.ChannelCH2, model.MeasurementPeriod)
	if err != nil {
		t.Fatalf("Measure returned error: %v", err)
	}
	if m.Unit != "s" || m.Value <= 0 {
		t.Fatalf("unexpected measurement: %+v", m)
	}

	entries, err := svc.ReadEvents(ctx)
	if err != nil {
		t.Fatalf("ReadEvents returned error: %v", err)
	}
	if len(entries) != 2 || entries[0].Code != 2225 {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	raw, err := svc.ReadEventQueue(ctx)
	if err != nil || !strings.HasPrefix(raw, "0,") {
		t.Fatalf("expected drained queue, got %q, %v", raw, err)
	}

	reply, err := svc.Execute(ctx, "ID?")
	if err != nil || !strings.HasPrefix(reply, "TEK/") {
		t.Fatalf("unexpected console reply %q, %v", reply, err)
	}
}

func TestCaptureAndExport(t *testing.T) {
	svc := newTestService(t, "SIMULATED")
	connect(t, svc)
	ctx := context.Background()

	acquisition, err := svc.CreateAcquisition(ctx)
	if err != nil {
		t.Fatalf("CreateAcquisition returned error: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.ExportCSV(ctx, acquisition.ID, &buf); !errors.Is(err, export.ErrEmpty) {
		t.Fatalf("expected ErrEmpty before capture, got %v", err)
	}

	captured, err := svc.Capture(ctx, acquisition.ID, []model.Channel{model.ChannelCH1})
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	first := captured.Waveforms[model.ChannelCH1]
	if first == nil || captured.Waveforms[model.ChannelCH2] != nil {
		t.Fatalf("expected only CH1, got %v", captured.Waveforms)
	}

	captured, err = svc.Capture(ctx, acquisition.ID, nil)
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if captured.Waveforms[model.ChannelCH1] == first {
		t.Fatalf("CH1 waveform should have been replaced")
	}
	if captured.Waveforms[model.ChannelCH2] == nil {
		t.Fatalf("expected CH2 after capturing all channels")
	}

	if err := svc.ExportCSV(ctx, acquisition.ID, &buf); err != nil {
		t.Fatalf("ExportCSV returned error: %v", err)
	}
	table, err := export.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if len(table.Time) != 2500 || len(table.Voltage[model.ChannelCH2]) != 2500 {
		t.Fatalf("unexpected export size: %d rows", len(table.Time))
	}

	page, err := svc.ListAcquisitions(ctx, 10, 0)
	if err != nil || page.Total != 1 {
		t.Fatalf("unexpected list result %+v, %v", page, err)
	}

	if err := svc.DeleteAcquisition(ctx, acquisition.ID); err != nil {
		t.Fatalf("DeleteAcquisition returned error: %v", err)
	}
	if _, err := svc.GetAcquisition(ctx, acquisition.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCapturesKeepBothChannels(t *testing.T) {
	cfg := testConfig("SIMULATED")
	cfg.Instrument.Simulated.Delay = 5 * time.Millisecond
	svc := newTestServiceWithConfig(t, cfg)
	connect(t, svc)
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		acquisition, err := svc.CreateAcquisition(ctx)
		if err != nil {
			t.Fatalf("CreateAcquisition returned error: %v", err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, len(model.Channels))
		for _, channel := range model.Channels {
			wg.Add(1)
			go func(channel model.Channel) {
				defer wg.Done()
				_, err := svc.Capture(ctx, acquisition.ID, []model.Channel{channel})
				errs <- err
			}(channel)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Capture returned error: %v", err)
			}
		}

		stored, err := svc.GetAcquisition(ctx, acquisition.ID)
		if err != nil {
			t.Fatalf("GetAcquisition returned error: %v", err)
		}
		for _, channel := range model.Channels {
			if stored.Waveforms[channel] == nil {
				t.Fatalf("round %d: %s waveform missing after concurrent captures", round, channel)
			}
		}
	}
}

func TestCaptureUnknownAcquisition(t *testing.T) {
	svc := newTestService(t, "SIMULATED")
	connect(t, svc)

	if _, err := svc.Capture(context.Background(), uuid.New(), nil); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	svc := newTestService(t, "SIMULATED")
	connect(t, svc)
	ctx := context.Background()

	if err := svc.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	if err := svc.Disconnect(ctx); err != nil {
		t.Fatalf("second Disconnect returned error: %v", err)
	}

	status := svc.Status()
	if status.Connected || status.Stats != nil {
		t.Fatalf("unexpected status after disconnect: %+v", status)
	}
	if status.LastLogSeq != 2 {
		t.Fatalf("journal should survive disconnect, last seq %d", status.LastLogSeq)
	}
	if _, err := svc.Identify(ctx); !errors.Is(err, model.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
