/*Package caen controls CAEN x751 waveform digitizers over the CAENDigitizer
library.

A Digitizer exposes the board as a set of named parameters in a params.Cache.
Writes to those parameters are validated synchronously and turned into tasks
that a single worker goroutine performs against the hardware: opening and
closing the link, reset, calibration, applying the fan/clock/trigger
configuration and reading it back.  Arm and Disarm start and stop acquisition
with a snapshot of the acquisition settings.

All state other than the device handle is guarded by the cache lock.  Library
calls are never made with that lock held.
*/
package caen

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/klauer/TRCAEN/params"
	"github.com/klauer/TRCAEN/util"
	"github.com/klauer/TRCAEN/worker"
)

// OpenState is the state of the link to the board
type OpenState int

const (
	// Closed means there is no handle
	Closed OpenState = iota

	// Opening means an open has been requested and not finished
	Opening

	// Opened means the handle is valid
	Opened

	// Closing means a close has been requested and not finished
	Closing
)

func (s OpenState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Opened:
		return "opened"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("OpenState(%d)", int(s))
	}
}

// RequestState is the status of a reset, calibrate or refresh request
type RequestState int

const (
	// Failed is also the initial state
	Failed RequestState = iota
	Succeeded
	Running
)

// values of the two-state configuration parameters
const (
	FanSlowAuto  = 0
	FanFullSpeed = 1

	ClockInternal = 0
	ClockExternal = 1

	TriggerEnabled  = 0
	TriggerDisabled = 1
)

// parameter names
const (
	ParamOpenState = "OPEN_STATE"
	ParamReset     = "RESET"
	ParamCalibrate = "CALIBRATE"
	ParamRefresh   = "REFRESH"

	ParamFanControlMode   = "FAN_CONTROL_MODE"
	ParamFanControlModeRB = "FAN_CONTROL_MODE_RB"
	ParamClockSource      = "CLOCK_SOURCE"
	ParamClockSourceRB    = "CLOCK_SOURCE_RB"
	ParamSWTrigger        = "SW_TRIGGER"
	ParamSWTriggerRB      = "SW_TRIGGER_RB"
	ParamExtTrigger       = "EXT_TRIGGER"
	ParamExtTriggerRB     = "EXT_TRIGGER_RB"

	ParamInfoModelName   = "INFO_MODEL_NAME"
	ParamInfoROCFWRev    = "INFO_ROC_FW_REV"
	ParamInfoAMCFWRev    = "INFO_AMC_FW_REV"
	ParamInfoPCBRevision = "INFO_PCB_REVISION"
	ParamInfoSerialNum   = "INFO_SERIAL_NUM"
	ParamInfoNumChannels = "INFO_NUM_CHANNELS"
	ParamInfoFamily      = "INFO_FAMILY"
	ParamInfoChMemSize   = "INFO_CH_MEM_SIZE"

	ParamHWSampleRate   = "HW_SAMPLE_RATE"
	ParamAcqRunningRB   = "ACQ_RUNNING_RB"
	ParamArmed          = "ARMED"
	ParamArmSettingsCRC = "ARM_SETTINGS_CRC"
)

// ChSelfTriggerParam is the name of the self trigger parameter of a channel
// pair, e.g. CH_SELF_TRIGGER_23 for pair 1
func ChSelfTriggerParam(pair int) string {
	return fmt.Sprintf("CH_SELF_TRIGGER_%d%d", 2*pair, 2*pair+1)
}

// ChSelfTriggerRBParam is the readback of ChSelfTriggerParam
func ChSelfTriggerRBParam(pair int) string {
	return ChSelfTriggerParam(pair) + "_RB"
}

// worker task kinds
const (
	taskOpenClose worker.Kind = iota
	taskReset
	taskCalibrate
	taskRefresh
	taskSetFan
	taskSetClockSource
	taskSetSWTrigger
	taskSetExtTrigger
	taskSetChSelfTrigger
)

// setting is a two-state configuration parameter backed by one register bit
type setting struct {
	param    string
	readback string
	task     worker.Task
	reg      Register
	bit      uint

	// bitSet is the parameter value that corresponds to the bit being 1
	bitSet int

	// acqControl is true when reg is shared with the acquisition start path
	acqControl bool
}

func (s *setting) encode(v int) uint32 {
	return util.BoolToBit(v == s.bitSet)
}

func (s *setting) decode(reg uint32) int {
	if util.GetBit(reg, s.bit) {
		return s.bitSet
	}
	return 1 - s.bitSet
}

// tracker follows one kind of administrative request
type tracker struct {
	name  string
	param string
	task  worker.Task
	run   func() bool

	// waitable requests hold off arming until they finish
	waitable bool

	busy bool
	gen  uint64
}

// Digitizer is one board
type Digitizer struct {
	port   string
	addr   string
	link   LinkType
	sdk    SDK
	log    *log.Logger
	params *params.Cache
	worker *worker.Worker

	settings        []*setting
	settingsByParam map[string]*setting
	settingsByTask  map[worker.Task]*setting

	// guarded by the params lock
	openState                 OpenState
	armed                     bool
	reset, calibrate, refresh tracker
	requestDone               *sync.Cond

	// written by the worker before Opened is published
	handle Handle

	// serializes access to AcqControl
	acqControl sync.Mutex

	// held for the whole of Arm and Disarm, so a disarm cannot land inside
	// an arm that is still waiting or programming the board
	armMu sync.Mutex
}

// New creates a closed digitizer.  port names it in logs and to clients,
// addr is the "link:node" address used when it is opened.
// Start must be called before any task runs.
func New(port, addr string, link LinkType, sdk SDK) *Digitizer {
	d := &Digitizer{
		port:            port,
		addr:            addr,
		link:            link,
		sdk:             sdk,
		log:             log.New(os.Stderr, port+" ", log.LstdFlags),
		params:          params.New(),
		worker:          worker.New(),
		settingsByParam: make(map[string]*setting),
		settingsByTask:  make(map[worker.Task]*setting),
	}
	d.requestDone = sync.NewCond(d.params)

	d.settings = []*setting{
		{param: ParamFanControlMode, readback: ParamFanControlModeRB, task: worker.Task{Kind: taskSetFan},
			reg: FanSpeedControl, bit: fanSpeedFullBit, bitSet: FanFullSpeed},
		{param: ParamClockSource, readback: ParamClockSourceRB, task: worker.Task{Kind: taskSetClockSource},
			reg: AcqControl, bit: clockExternalBit, bitSet: ClockExternal, acqControl: true},
		{param: ParamSWTrigger, readback: ParamSWTriggerRB, task: worker.Task{Kind: taskSetSWTrigger},
			reg: TriggerSourceEnableMask, bit: swTriggerBit, bitSet: TriggerEnabled},
		{param: ParamExtTrigger, readback: ParamExtTriggerRB, task: worker.Task{Kind: taskSetExtTrigger},
			reg: TriggerSourceEnableMask, bit: extTriggerBit, bitSet: TriggerEnabled},
	}
	for pair := 0; pair < NumChannelPairs; pair++ {
		d.settings = append(d.settings, &setting{
			param:    ChSelfTriggerParam(pair),
			readback: ChSelfTriggerRBParam(pair),
			task:     worker.Task{Kind: taskSetChSelfTrigger, Index: pair},
			reg:      TriggerSourceEnableMask,
			bit:      uint(pair),
			bitSet:   TriggerEnabled,
		})
	}
	for _, s := range d.settings {
		d.settingsByParam[s.param] = s
		d.settingsByTask[s.task] = s
	}

	d.reset = tracker{name: "reset", param: ParamReset, task: worker.Task{Kind: taskReset},
		run: d.resetDigitizer, waitable: true}
	d.calibrate = tracker{name: "calibrate", param: ParamCalibrate, task: worker.Task{Kind: taskCalibrate},
		run: d.calibrateDigitizer, waitable: true}
	d.refresh = tracker{name: "refresh", param: ParamRefresh, task: worker.Task{Kind: taskRefresh},
		run: d.refreshReadbacks}

	d.defineParams()
	d.registerTasks()
	return d
}

func (d *Digitizer) defineParams() {
	ints := []string{
		ParamOpenState, ParamReset, ParamCalibrate, ParamRefresh,
		ParamInfoPCBRevision, ParamInfoSerialNum, ParamInfoNumChannels, ParamInfoFamily, ParamInfoChMemSize,
		ParamAcqRunningRB, ParamArmed, ParamArmSettingsCRC,
	}
	for _, s := range d.settings {
		ints = append(ints, s.param, s.readback)
	}
	define := func(name string, t params.Type) {
		if err := d.params.Define(name, t); err != nil {
			panic(err)
		}
	}
	for _, name := range ints {
		define(name, params.Int)
	}
	for _, name := range []string{ParamInfoModelName, ParamInfoROCFWRev, ParamInfoAMCFWRev} {
		define(name, params.String)
	}
	define(ParamHWSampleRate, params.Float)

	d.params.Lock()
	defer d.params.Unlock()
	d.params.SetInt(ParamOpenState, int(Closed))
	for _, t := range []*tracker{&d.reset, &d.calibrate, &d.refresh} {
		d.params.SetInt(t.param, int(Failed))
	}
	d.setReadbacksUnknown()
	d.params.Notify()
}

// setReadbacksUnknown sets every readback to -1.  Call with the lock held.
func (d *Digitizer) setReadbacksUnknown() {
	for _, s := range d.settings {
		d.params.SetInt(s.readback, -1)
		d.params.SetStatus(s.readback, params.OK)
	}
	d.params.SetInt(ParamAcqRunningRB, -1)
	d.params.SetStatus(ParamAcqRunningRB, params.OK)
}

// SetLogger replaces the logger, which defaults to stderr prefixed with the port
func (d *Digitizer) SetLogger(l *log.Logger) { d.log = l }

// Port is the name of the digitizer
func (d *Digitizer) Port() string { return d.port }

// Addr is the "link:node" address of the digitizer
func (d *Digitizer) Addr() string { return d.addr }

// Params is the parameter cache.  Lock it to read values consistently; write
// through WriteInt and WriteFloat.
func (d *Digitizer) Params() *params.Cache { return d.params }

// Start runs the worker until ctx is done
func (d *Digitizer) Start(ctx context.Context) {
	go d.worker.Run(ctx)
}

// WaitIdle blocks until no task is queued or executing
func (d *Digitizer) WaitIdle(ctx context.Context) error {
	return d.worker.WaitIdle(ctx)
}

// OpenState returns the current open state
func (d *Digitizer) OpenState() OpenState {
	d.params.Lock()
	defer d.params.Unlock()
	return d.openState
}

// Armed is true between a successful Arm and Disarm
func (d *Digitizer) Armed() bool {
	d.params.Lock()
	defer d.params.Unlock()
	return d.armed
}

// Read returns one parameter
func (d *Digitizer) Read(name string) (params.Value, error) {
	d.params.Lock()
	defer d.params.Unlock()
	v, err := d.params.Get(name)
	if err != nil {
		return v, fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return v, nil
}

// Snapshot returns every parameter
func (d *Digitizer) Snapshot() []params.Value {
	d.params.Lock()
	defer d.params.Unlock()
	return d.params.Snapshot()
}
