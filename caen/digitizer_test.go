package caen

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/klauer/TRCAEN/params"
)

func newTestDigitizer(t *testing.T, addr string) (*Digitizer, *MockSDK) {
	t.Helper()
	m := NewMockSDK()
	d := New("TEST", addr, OpticalLink, m)
	d.SetLogger(log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	return d, m
}

func waitIdle(t *testing.T, d *Digitizer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		t.Fatalf("worker did not go idle: %v", err)
	}
}

func openTestDigitizer(t *testing.T) (*Digitizer, *MockSDK) {
	t.Helper()
	d, m := newTestDigitizer(t, "0:0")
	if err := d.WriteInt(ParamOpenState, int(Opened)); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if s := d.OpenState(); s != Opened {
		t.Fatalf("digitizer is %s after open, expected opened", s)
	}
	return d, m
}

func readInt(t *testing.T, d *Digitizer, name string) int {
	t.Helper()
	v, err := d.Read(name)
	if err != nil {
		t.Fatal(err)
	}
	return v.Int
}

func countCalls(m *MockSDK, prefix string) int {
	n := 0
	for _, c := range m.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// gate blocks the first call of op in the mock until released
type gate struct {
	op      string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func installGate(m *MockSDK, op string) *gate {
	g := &gate{op: op, entered: make(chan struct{}), release: make(chan struct{})}
	m.Lock()
	m.Hook = func(o string) {
		if o != g.op {
			return
		}
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	m.Unlock()
	return g
}

func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s was never called", g.op)
	}
}

func allReadbacks() []string {
	out := []string{ParamFanControlModeRB, ParamClockSourceRB, ParamSWTriggerRB, ParamExtTriggerRB}
	for pair := 0; pair < NumChannelPairs; pair++ {
		out = append(out, ChSelfTriggerRBParam(pair))
	}
	return out
}

func TestOpenAppliesSettings(t *testing.T) {
	d, m := newTestDigitizer(t, "0x1:2")
	for _, name := range allReadbacks() {
		if v := readInt(t, d, name); v != -1 {
			t.Errorf("%s = %d before open, expected -1", name, v)
		}
	}
	sub := d.Params().Subscribe(1024)
	defer sub.Unsubscribe()

	if err := d.WriteInt(ParamOpenState, int(Opened)); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	var states []int
	for len(sub.C()) > 0 {
		v := <-sub.C()
		if v.Name == ParamOpenState {
			states = append(states, v.Int)
		}
	}
	if diff := cmp.Diff([]int{int(Opening), int(Opened)}, states); diff != "" {
		t.Errorf("OPEN_STATE transitions mismatch (-want +got):\n%s", diff)
	}

	if link, node := m.Opened(); link != 1 || node != 2 {
		t.Errorf("opened link %d node %d, expected 1 2", link, node)
	}
	for _, name := range allReadbacks() {
		if v := readInt(t, d, name); v == -1 {
			t.Errorf("%s was not read back after open", name)
		}
	}
	// every trigger source defaults to enabled
	if got := m.Reg(TriggerSourceEnableMask.Addr); got != 0xC000000F {
		t.Errorf("TriggerSourceEnableMask = 0x%08X, expected 0xC000000F", got)
	}
	if v := readInt(t, d, ParamSWTriggerRB); v != TriggerEnabled {
		t.Errorf("SW_TRIGGER_RB = %d, expected enabled", v)
	}

	name, _ := d.Read(ParamInfoModelName)
	if name.Str != "V1751" {
		t.Errorf("INFO_MODEL_NAME = %q", name.Str)
	}
	if v := readInt(t, d, ParamInfoChMemSize); v != 2*640000 {
		t.Errorf("INFO_CH_MEM_SIZE = %d, expected %d", v, 2*640000)
	}
	if v := readInt(t, d, ParamInfoSerialNum); v != 1234 {
		t.Errorf("INFO_SERIAL_NUM = %d", v)
	}
}

func TestCloseClearsInfoAndReadbacks(t *testing.T) {
	d, m := openTestDigitizer(t)
	if err := d.WriteInt(ParamOpenState, int(Closed)); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if s := d.OpenState(); s != Closed {
		t.Fatalf("state %s after close", s)
	}
	if m.IsOpen() {
		t.Error("mock handle still open")
	}
	for _, name := range allReadbacks() {
		v, _ := d.Read(name)
		if v.Int != -1 || v.Status != params.OK {
			t.Errorf("%s = %d (%s) after close, expected -1 (ok)", name, v.Int, v.Status)
		}
	}
	if v, _ := d.Read(ParamInfoModelName); v.Str != "" {
		t.Errorf("INFO_MODEL_NAME = %q after close", v.Str)
	}
	if v := readInt(t, d, ParamInfoChMemSize); v != 0 {
		t.Errorf("INFO_CH_MEM_SIZE = %d after close", v)
	}
}

func TestFailedOpenReturnsToClosed(t *testing.T) {
	d, m := newTestDigitizer(t, "0:0")
	m.Lock()
	m.Faults["Open"] = DigitizerNotFound
	m.Unlock()
	if err := d.WriteInt(ParamOpenState, int(Opened)); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if s := d.OpenState(); s != Closed {
		t.Errorf("state %s after failed open, expected closed", s)
	}
	if n := countCalls(m, "WriteRegister"); n != 0 {
		t.Errorf("%d register writes after a failed open", n)
	}

	// the device can be opened once the fault clears
	m.Lock()
	delete(m.Faults, "Open")
	m.Unlock()
	if err := d.WriteInt(ParamOpenState, int(Opened)); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if s := d.OpenState(); s != Opened {
		t.Errorf("state %s after retry, expected opened", s)
	}
}

func TestBadAddressFailsOpen(t *testing.T) {
	d, m := newTestDigitizer(t, "3")
	if err := d.WriteInt(ParamOpenState, int(Opened)); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if s := d.OpenState(); s != Closed {
		t.Errorf("state %s, expected closed", s)
	}
	if n := countCalls(m, "Open"); n != 0 {
		t.Errorf("library open called %d times with a bad address", n)
	}
}

func TestFailedCloseStaysOpen(t *testing.T) {
	d, m := openTestDigitizer(t)
	m.Lock()
	m.Faults["Close"] = CommError
	m.Unlock()
	if err := d.WriteInt(ParamOpenState, int(Closed)); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if s := d.OpenState(); s != Opened {
		t.Errorf("state %s after failed close, expected opened", s)
	}
	if v, _ := d.Read(ParamInfoModelName); v.Str != "V1751" {
		t.Error("identity was cleared by a failed close")
	}
}

func TestOpenStateRequests(t *testing.T) {
	d, m := newTestDigitizer(t, "0:0")
	if err := d.WriteInt(ParamOpenState, 5); !errors.Is(err, ErrBadValue) {
		t.Errorf("expected ErrBadValue, got %v", err)
	}
	if err := d.WriteInt(ParamOpenState, int(Opening)); !errors.Is(err, ErrBadValue) {
		t.Errorf("writing Opening: expected ErrBadValue, got %v", err)
	}
	if err := d.WriteInt(ParamOpenState, int(Closed)); err != nil {
		t.Errorf("closing a closed device should be a no-op, got %v", err)
	}

	g := installGate(m, "Open")
	if err := d.WriteInt(ParamOpenState, int(Opened)); err != nil {
		t.Fatal(err)
	}
	g.waitEntered(t)
	for _, v := range []OpenState{Opened, Closed} {
		if err := d.WriteInt(ParamOpenState, int(v)); !errors.Is(err, ErrIllegalState) {
			t.Errorf("writing %s while opening: expected ErrIllegalState, got %v", v, err)
		}
	}
	if v := readInt(t, d, ParamOpenState); v != int(Opening) {
		t.Errorf("OPEN_STATE = %d while opening", v)
	}
	close(g.release)
	waitIdle(t, d)
	if err := d.WriteInt(ParamOpenState, int(Opened)); err != nil {
		t.Errorf("opening an open device should be a no-op, got %v", err)
	}
	if n := countCalls(m, "Open"); n != 1 {
		t.Errorf("library open called %d times, expected 1", n)
	}
}

func TestDuplicateRequestIsNoop(t *testing.T) {
	cases := []struct {
		param string
		op    string
		track func(*Digitizer) *tracker
	}{
		{ParamReset, "Reset", func(d *Digitizer) *tracker { return &d.reset }},
		{ParamCalibrate, "Calibrate", func(d *Digitizer) *tracker { return &d.calibrate }},
		{ParamRefresh, "ReadRegister", func(d *Digitizer) *tracker { return &d.refresh }},
	}
	for _, c := range cases {
		t.Run(c.param, func(t *testing.T) {
			d, m := openTestDigitizer(t)
			m.ClearCalls()
			g := installGate(m, c.op)
			if err := d.WriteInt(c.param, 1); err != nil {
				t.Fatal(err)
			}
			g.waitEntered(t)
			if err := d.WriteInt(c.param, 1); err != nil {
				t.Errorf("repeat request returned %v", err)
			}
			if v := readInt(t, d, c.param); v != int(Running) {
				t.Errorf("%s = %d while running, expected Running", c.param, v)
			}
			if d.worker.Pending(c.track(d).task) {
				t.Error("a second task was queued")
			}
			close(g.release)
			waitIdle(t, d)
			if v := readInt(t, d, c.param); v != int(Succeeded) {
				t.Errorf("%s = %d after completion, expected Succeeded", c.param, v)
			}
			if c.op != "ReadRegister" {
				if n := countCalls(m, c.op); n != 1 {
					t.Errorf("%s called %d times, expected 1", c.op, n)
				}
			}
		})
	}
}

func TestRequestsRequireOpen(t *testing.T) {
	d, _ := newTestDigitizer(t, "0:0")
	for _, p := range []string{ParamReset, ParamCalibrate, ParamRefresh} {
		if err := d.WriteInt(p, 1); !errors.Is(err, ErrNotOpen) {
			t.Errorf("%s on a closed device: expected ErrNotOpen, got %v", p, err)
		}
		if v := readInt(t, d, p); v != int(Failed) {
			t.Errorf("%s = %d, expected the initial Failed", p, v)
		}
	}
}

func TestRequestFailure(t *testing.T) {
	d, m := openTestDigitizer(t)
	m.Lock()
	m.Faults["Calibrate"] = CalibrationError
	m.Unlock()
	if err := d.WriteInt(ParamCalibrate, 1); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if v := readInt(t, d, ParamCalibrate); v != int(Failed) {
		t.Errorf("CALIBRATE = %d after a library error, expected Failed", v)
	}
}

func TestSettingWrittenWhileClosedIsAppliedOnOpen(t *testing.T) {
	d, m := newTestDigitizer(t, "0:0")
	if err := d.WriteInt(ParamFanControlMode, FanFullSpeed); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteInt(ParamClockSource, ClockExternal); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteInt(ChSelfTriggerParam(2), TriggerDisabled); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if calls := m.Calls(); len(calls) != 0 {
		t.Fatalf("hardware touched while closed: %v", calls)
	}

	if err := d.WriteInt(ParamOpenState, int(Opened)); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if m.Reg(FanSpeedControl.Addr)&(1<<3) == 0 {
		t.Error("fan full speed bit not set")
	}
	if m.Reg(AcqControl.Addr)&(1<<6) == 0 {
		t.Error("external clock bit not set")
	}
	if got := m.Reg(TriggerSourceEnableMask.Addr); got != 0xC000000B {
		t.Errorf("TriggerSourceEnableMask = 0x%08X, expected 0xC000000B", got)
	}
	want := map[string]int{
		ParamFanControlModeRB:   FanFullSpeed,
		ParamClockSourceRB:      ClockExternal,
		ChSelfTriggerRBParam(2): TriggerDisabled,
		ChSelfTriggerRBParam(1): TriggerEnabled,
	}
	for name, v := range want {
		if got := readInt(t, d, name); got != v {
			t.Errorf("%s = %d, expected %d", name, got, v)
		}
	}
}

func TestSettingBadValue(t *testing.T) {
	d, _ := newTestDigitizer(t, "0:0")
	if err := d.WriteInt(ParamFanControlMode, 2); !errors.Is(err, ErrBadValue) {
		t.Errorf("expected ErrBadValue, got %v", err)
	}
	if v := readInt(t, d, ParamFanControlMode); v != FanSlowAuto {
		t.Errorf("FAN_CONTROL_MODE changed to %d by a rejected write", v)
	}
}

func TestReadbackFailureKeepsPriorValue(t *testing.T) {
	d, m := openTestDigitizer(t)
	m.Lock()
	m.RegFaults[FanSpeedControl.Addr] = ReadDeviceRegisterFail
	m.Unlock()
	if err := d.WriteInt(ParamFanControlMode, FanFullSpeed); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	v, _ := d.Read(ParamFanControlModeRB)
	if v.Int != FanSlowAuto || v.Status != params.Error {
		t.Errorf("FAN_CONTROL_MODE_RB = %d (%s), expected %d (error)", v.Int, v.Status, FanSlowAuto)
	}
}

func TestFailedApplyStillReadsBack(t *testing.T) {
	d, m := openTestDigitizer(t)
	m.Lock()
	m.Faults["WriteRegister"] = WriteDeviceRegisterFail
	m.Unlock()
	before := countCalls(m, "ReadRegister")
	if err := d.WriteInt(ParamFanControlMode, FanFullSpeed); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if m.Reg(FanSpeedControl.Addr)&(1<<3) != 0 {
		t.Fatal("fan bit set although the write failed")
	}
	if countCalls(m, "ReadRegister") < before+2 {
		t.Error("setting was not read back after the failed write")
	}
	v, _ := d.Read(ParamFanControlModeRB)
	if v.Int != FanSlowAuto || v.Status != params.OK {
		t.Errorf("FAN_CONTROL_MODE_RB = %d (%s), expected %d (ok)", v.Int, v.Status, FanSlowAuto)
	}
}

func TestRefreshReadsHardware(t *testing.T) {
	d, m := openTestDigitizer(t)
	m.SetReg(TriggerSourceEnableMask.Addr, 0)
	if err := d.WriteInt(ParamRefresh, 1); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if v := readInt(t, d, ParamRefresh); v != int(Succeeded) {
		t.Errorf("REFRESH = %d", v)
	}
	if v := readInt(t, d, ParamSWTriggerRB); v != TriggerDisabled {
		t.Errorf("SW_TRIGGER_RB = %d after the register was cleared", v)
	}
	if v := readInt(t, d, ParamAcqRunningRB); v != 0 {
		t.Errorf("ACQ_RUNNING_RB = %d", v)
	}
}

func TestRefreshFailsOnReadError(t *testing.T) {
	d, m := openTestDigitizer(t)
	m.Lock()
	m.RegFaults[AcqStatus.Addr] = ReadDeviceRegisterFail
	m.Unlock()
	if err := d.WriteInt(ParamRefresh, 1); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if v := readInt(t, d, ParamRefresh); v != int(Failed) {
		t.Errorf("REFRESH = %d, expected Failed", v)
	}
}

func TestResetReappliesSettings(t *testing.T) {
	d, m := openTestDigitizer(t)
	if err := d.WriteInt(ParamFanControlMode, FanFullSpeed); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if err := d.WriteInt(ParamReset, 1); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	if v := readInt(t, d, ParamReset); v != int(Succeeded) {
		t.Errorf("RESET = %d", v)
	}
	if m.Reg(FanSpeedControl.Addr)&(1<<3) == 0 {
		t.Error("fan setting was not applied again after reset")
	}
}

func TestWriteRejections(t *testing.T) {
	d, _ := newTestDigitizer(t, "0:0")
	if err := d.WriteInt(ParamFanControlModeRB, 1); !errors.Is(err, ErrReadOnly) {
		t.Errorf("readback: expected ErrReadOnly, got %v", err)
	}
	if err := d.WriteInt(ParamInfoModelName, 1); !errors.Is(err, ErrReadOnly) {
		t.Errorf("info: expected ErrReadOnly, got %v", err)
	}
	if err := d.WriteInt("NOT_A_PARAM", 1); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}
	if err := d.WriteFloat(ParamFanControlMode, 1); !errors.Is(err, ErrBadValue) {
		t.Errorf("float to int param: expected ErrBadValue, got %v", err)
	}
	if err := d.WriteFloat(ParamHWSampleRate, 1e9); err != nil {
		t.Error(err)
	}
	if v, _ := d.Read(ParamHWSampleRate); v.Float != 1e9 {
		t.Errorf("HW_SAMPLE_RATE = %g", v.Float)
	}
}

func TestAutoRefresh(t *testing.T) {
	d, _ := openTestDigitizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.AutoRefresh(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if readInt(t, d, ParamRefresh) == int(Succeeded) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("auto refresh never completed a refresh")
}

func TestErrorCodes(t *testing.T) {
	if err := Error(0); err != nil {
		t.Errorf("Error(0) = %v, expected nil", err)
	}
	err := Error(-1)
	var code ErrorCode
	if !errors.As(err, &code) || code != CommError {
		t.Fatalf("Error(-1) = %v, expected CommError", err)
	}
	if s := err.Error(); s != "-1 - Communication error" {
		t.Errorf("Error() = %q", s)
	}
	if s := ErrorCode(-12).Description(); s != "(unknown error code)" {
		t.Errorf("unlisted code described as %q", s)
	}
}
