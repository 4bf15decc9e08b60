package tektronix

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"scope-service/internal/eventlog"
	"scope-service/internal/model"
	"scope-service/internal/protocol"
	"scope-service/internal/transport"
)

// scriptedExchanger answers queries from per-command reply queues and keeps
// an operator-style log of the traffic
type scriptedExchanger struct {
	mu       sync.Mutex
	replies  map[string][]string
	failures map[string]error
	log      []string
	timeouts map[string]time.Duration
}

func newScriptedExchanger() *scriptedExchanger {
	return &scriptedExchanger{
		replies:  make(map[string][]string),
		failures: make(map[string]error),
		timeouts: make(map[string]time.Duration),
	}
}

func (se *scriptedExchanger) reply(command string, replies ...string) *scriptedExchanger {
	se.replies[command] = append(se.replies[command], replies...)
	return se
}

func (se *scriptedExchanger) Send(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	se.mu.Lock()
	defer se.mu.Unlock()

	se.log = append(se.log, "-> "+command)
	return se.failures[command]
}

func (se *scriptedExchanger) SendAndReceive(ctx context.Context, command string) (string, error) {
	return se.SendAndReceiveWithin(ctx, command, 0)
}

func (se *scriptedExchanger) SendAndReceiveWithin(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	se.mu.Lock()
	defer se.mu.Unlock()

	se.log = append(se.log, "-> "+command)
	se.timeouts[command] = timeout
	if err := se.failures[command]; err != nil {
		return "", err
	}

	queue := se.replies[command]
	if len(queue) == 0 {
		return "", model.ErrTimeout
	}
	se.replies[command] = queue[1:]
	se.log = append(se.log, "<- "+queue[0])
	return queue[0], nil
}

func newTestScope(t *testing.T, exchanger Exchanger) *Scope {
	t.Helper()
	return NewScope(exchanger, Config{CurveReadTimeout: 45 * time.Second}, zaptest.NewLogger(t), nil)
}

func repeatCurve(value string, n int) string {
	points := make([]string, n)
	for i := range points {
		points[i] = value
	}
	return strings.Join(points, ",")
}

const testPreamble = "Ch1, DC coupling, 1.0E0 V/div, 5.0E-4 s/div, 2500 points, Sample mode"

func assertCommands(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d log lines, got %d:\n%s", len(want), len(got), strings.Join(got, "\n"))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestIdentify(t *testing.T) {
	se := newScriptedExchanger().reply("ID?", "TEK/TDS340,CF:91.1CT,FV:v1.00")
	scope := newTestScope(t, se)

	id, err := scope.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify returned error: %v", err)
	}
	if id != "TEK/TDS340,CF:91.1CT,FV:v1.00" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestReadEventQueueIsVerbatim(t *testing.T) {
	raw := `2225, "MEASUREMENT ERROR, NO WAVEFORM TO MEASURE; ",420,"QUERY UNTERMINATED; "`
	se := newScriptedExchanger().reply("ALLE?", raw)
	scope := newTestScope(t, se)

	got, err := scope.ReadEventQueue(context.Background())
	if err != nil || got != raw {
		t.Fatalf("unexpected reply %q, %v", got, err)
	}
}

func TestReadEvents(t *testing.T) {
	se := newScriptedExchanger().reply("ALLE?", `2225, "MEASUREMENT ERROR, NO WAVEFORM TO MEASURE; ",420,"QUERY UNTERMINATED; "`)
	scope := newTestScope(t, se)

	entries, err := scope.ReadEvents(context.Background())
	if err != nil {
		t.Fatalf("ReadEvents returned error: %v", err)
	}
	want := []model.EventEntry{
		{Code: 2225, Message: "MEASUREMENT ERROR, NO WAVEFORM TO MEASURE; "},
		{Code: 420, Message: "QUERY UNTERMINATED; "},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d: expected %+v, got %+v", i, want[i], entries[i])
		}
	}
}

func TestMeasureImmediate(t *testing.T) {
	se := newScriptedExchanger().
		reply("MEASU:IMM:VAL?", "41.2").
		reply("MEASU:IMM:UNI?", "V")
	scope := newTestScope(t, se)

	m, err := scope.MeasureImmediate(context.Background(), model.ChannelCH1, model.MeasurementPeakToPeak)
	if err != nil {
		t.Fatalf("MeasureImmediate returned error: %v", err)
	}
	if m.Value != 41.2 || m.Unit != "V" || m.Channel != model.ChannelCH1 || m.Type != model.MeasurementPeakToPeak {
		t.Fatalf("unexpected measurement: %+v", m)
	}

	assertCommands(t, se.log, []string{
		"-> MEASU:IMM:SOU CH1",
		"-> MEASU:IMM:TYPE PK2PK",
		"-> MEASU:IMM:VAL?",
		"<- 41.2",
		"-> MEASU:IMM:UNI?",
		"<- V",
	})
}

func TestMeasureImmediateKeepsQuotedUnit(t *testing.T) {
	se := newScriptedExchanger().
		reply("MEASU:IMM:VAL?", "1.0E3").
		reply("MEASU:IMM:UNI?", `"Hz"`)
	scope := newTestScope(t, se)

	m, err := scope.MeasureImmediate(context.Background(), model.ChannelCH2, model.MeasurementFrequency)
	if err != nil {
		t.Fatalf("MeasureImmediate returned error: %v", err)
	}
	if m.Value != 1000 || m.Unit != `"Hz"` {
		t.Fatalf("unexpected measurement: %+v", m)
	}
}

func TestMeasureImmediateParseError(t *testing.T) {
	se := newScriptedExchanger().
		reply("MEASU:IMM:VAL?", "abc").
		reply("MEASU:IMM:UNI?", "V")
	scope := newTestScope(t, se)

	_, err := scope.MeasureImmediate(context.Background(), model.ChannelCH1, model.MeasurementMaximum)
	if !errors.Is(err, model.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	for _, line := range se.log {
		if strings.Contains(line, "UNI?") {
			t.Fatalf("unit must not be queried after a bad value: %v", se.log)
		}
	}

	health := scope.GetHealthMetrics()
	if health.ErrorCount != 1 || health.TotalOperations != 1 {
		t.Fatalf("unexpected health metrics: %+v", health)
	}
}

func TestMeasureImmediateRejectsUnknownEnums(t *testing.T) {
	se := newScriptedExchanger()
	scope := newTestScope(t, se)

	if _, err := scope.MeasureImmediate(context.Background(), model.Channel("CH3"), model.MeasurementPeakToPeak); !errors.Is(err, model.ErrParse) {
		t.Fatalf("expected ErrParse for channel, got %v", err)
	}
	if _, err := scope.MeasureImmediate(context.Background(), model.ChannelCH1, model.MeasurementType("RMS")); !errors.Is(err, model.ErrParse) {
		t.Fatalf("expected ErrParse for type, got %v", err)
	}
	if len(se.log) != 0 {
		t.Fatalf("nothing should be sent: %v", se.log)
	}
}

func TestAcquireCurve(t *testing.T) {
	se := newScriptedExchanger().
		reply("CURV?", repeatCurve("16384", RecordLength)).
		reply("WFMP:WFI?", testPreamble)
	scope := newTestScope(t, se)

	w, err := scope.AcquireCurve(context.Background(), model.ChannelCH1)
	if err != nil {
		t.Fatalf("AcquireCurve returned error: %v", err)
	}

	if w.Len() != RecordLength || len(w.Time) != RecordLength || len(w.Voltage) != RecordLength {
		t.Fatalf("length mismatch: raw %d time %d voltage %d", len(w.Raw), len(w.Time), len(w.Voltage))
	}
	if w.Scaling.VoltsPerDivision != 1.0 || w.Scaling.SecondsPerDivision != 5.0e-4 {
		t.Fatalf("unexpected scaling: %+v", w.Scaling)
	}
	if w.Voltage[0] != 5.0 {
		t.Fatalf("expected 5.0 V for raw 16384, got %v", w.Voltage[0])
	}
	if w.Time[0] != 0 {
		t.Fatalf("expected time[0] == 0, got %v", w.Time[0])
	}
	if want := 2499.0 / 2500.0 * 10.0 * 5.0e-4; math.Abs(w.Time[2499]-want) > 1e-15 {
		t.Fatalf("expected time[2499] = %v, got %v", want, w.Time[2499])
	}

	assertCommands(t, se.log[:5], []string{
		"-> DAT:ENC ASCII",
		"-> DAT:SOU CH1",
		"-> DAT:START 1",
		"-> DAT:STOP 2500",
		"-> DAT:WID 2",
	})
	if se.log[5] != "-> CURV?" || se.log[7] != "-> WFMP:WFI?" {
		t.Fatalf("unexpected query order: %v", se.log[5:])
	}
	if se.timeouts["CURV?"] != 45*time.Second {
		t.Fatalf("curve transfer should use the curve timeout, got %v", se.timeouts["CURV?"])
	}
}

func TestAcquireCurveShortRecord(t *testing.T) {
	se := newScriptedExchanger().
		reply("CURV?", repeatCurve("1", RecordLength-1)).
		reply("WFMP:WFI?", testPreamble)
	scope := newTestScope(t, se)

	_, err := scope.AcquireCurve(context.Background(), model.ChannelCH2)
	if !errors.Is(err, model.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if se.log[len(se.log)-1] == "-> WFMP:WFI?" {
		t.Fatalf("preamble must not be read after a bad curve")
	}
}

func TestAcquireCurveBadPreamble(t *testing.T) {
	se := newScriptedExchanger().
		reply("CURV?", repeatCurve("0", RecordLength)).
		reply("WFMP:WFI?", "Ch1, DC coupling")
	scope := newTestScope(t, se)

	if _, err := scope.AcquireCurve(context.Background(), model.ChannelCH1); !errors.Is(err, model.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestAcquireCurveTimeoutPropagates(t *testing.T) {
	se := newScriptedExchanger()
	scope := newTestScope(t, se)

	if _, err := scope.AcquireCurve(context.Background(), model.ChannelCH1); !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestExecute(t *testing.T) {
	se := newScriptedExchanger().reply("DAT:SOU?", "CH2")
	scope := newTestScope(t, se)
	ctx := context.Background()

	reply, err := scope.Execute(ctx, " DAT:SOU? ")
	if err != nil || reply != "CH2" {
		t.Fatalf("unexpected query result %q, %v", reply, err)
	}

	reply, err = scope.Execute(ctx, "DAT:SOU CH1")
	if err != nil || reply != "" {
		t.Fatalf("unexpected set result %q, %v", reply, err)
	}

	if _, err := scope.Execute(ctx, "   "); !errors.Is(err, model.ErrParse) {
		t.Fatalf("expected ErrParse for empty command, got %v", err)
	}

	assertCommands(t, se.log, []string{"-> DAT:SOU?", "<- CH2", "-> DAT:SOU CH1"})
}

func newSimulatedScope(t *testing.T) (*Scope, *protocol.SimulatedConnection, *eventlog.Journal) {
	t.Helper()

	conn := protocol.NewSimulatedConnection(&protocol.SimulatedConfig{Seed: 42}, zap.NewNop())
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	journal := eventlog.NewJournal(1000, zap.NewNop())
	tr := transport.New(conn, journal, transport.Options{ReadTimeout: 2 * time.Second}, zap.NewNop(), nil)
	return NewScope(tr, Config{CurveReadTimeout: 5 * time.Second}, zaptest.NewLogger(t), nil), conn, journal
}

func TestSimulatedMeasureImmediateJournal(t *testing.T) {
	scope, _, journal := newSimulatedScope(t)

	m, err := scope.MeasureImmediate(context.Background(), model.ChannelCH1, model.MeasurementPeakToPeak)
	if err != nil {
		t.Fatalf("MeasureImmediate returned error: %v", err)
	}
	if m.Unit != "V" {
		t.Fatalf("unexpected unit %q", m.Unit)
	}

	var directions []model.Direction
	for _, event := range journal.Snapshot(0) {
		directions = append(directions, event.Direction)
	}
	want := []model.Direction{
		model.DirectionSent, model.DirectionSent,
		model.DirectionSent, model.DirectionReceived,
		model.DirectionSent, model.DirectionReceived,
	}
	if len(directions) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), directions)
	}
	for i := range want {
		if directions[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], directions[i])
		}
	}
}

func TestSimulatedAcquireCurve(t *testing.T) {
	scope, _, journal := newSimulatedScope(t)

	w, err := scope.AcquireCurve(context.Background(), model.ChannelCH2)
	if err != nil {
		t.Fatalf("AcquireCurve returned error: %v", err)
	}
	if w.Len() != RecordLength || w.Channel != model.ChannelCH2 {
		t.Fatalf("unexpected waveform: %d points on %s", w.Len(), w.Channel)
	}
	for i, r := range w.Raw {
		want := float64(r) / 32768.0 * 10.0 * w.Scaling.VoltsPerDivision
		if w.Voltage[i] != want {
			t.Fatalf("voltage %d: expected %v, got %v", i, want, w.Voltage[i])
		}
	}
	if n := len(journal.Snapshot(0)); n != 9 {
		t.Fatalf("expected 7 sent and 2 received events, got %d", n)
	}
}

func TestCancelledContextSendsNothing(t *testing.T) {
	scope, conn, journal := newSimulatedScope(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := scope.AcquireCurve(ctx, model.ChannelCH1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(conn.Commands()) != 0 || journal.Len() != 0 {
		t.Fatalf("expected nothing sent, got %v", conn.Commands())
	}
}

func TestOperationsDoNotInterleave(t *testing.T) {
	scope, conn, _ := newSimulatedScope(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := scope.MeasureImmediate(ctx, model.ChannelCH1, model.MeasurementFrequency); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := scope.AcquireCurve(ctx, model.ChannelCH2); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	commands := conn.Commands()
	for i := 0; i < len(commands); {
		switch {
		case strings.HasPrefix(commands[i], "MEASU:IMM:SOU"):
			for k := 1; k < 4; k++ {
				if !strings.HasPrefix(commands[i+k], "MEASU:") {
					t.Fatalf("measurement interleaved at %d: %v", i, commands[i:i+4])
				}
			}
			i += 4
		case commands[i] == "DAT:ENC ASCII":
			if commands[i+5] != "CURV?" || commands[i+6] != "WFMP:WFI?" {
				t.Fatalf("acquisition interleaved at %d: %v", i, commands[i:i+7])
			}
			i += 7
		default:
			t.Fatalf("unexpected command %q at %d", commands[i], i)
		}
	}
}
