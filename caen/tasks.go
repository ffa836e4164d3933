package caen

import (
	"fmt"

	"github.com/klauer/TRCAEN/params"
	"github.com/klauer/TRCAEN/util"
	"github.com/klauer/TRCAEN/worker"
)

var openCloseTask = worker.Task{Kind: taskOpenClose}

func (d *Digitizer) registerTasks() {
	d.worker.Handle(taskOpenClose, func(worker.Task) { d.openClose() })
	for _, t := range []*tracker{&d.reset, &d.calibrate, &d.refresh} {
		t := t
		d.worker.Handle(t.task.Kind, func(worker.Task) { d.runRequest(t) })
	}
	for _, k := range []worker.Kind{taskSetFan, taskSetClockSource, taskSetSWTrigger, taskSetExtTrigger, taskSetChSelfTrigger} {
		d.worker.Handle(k, d.applySetting)
	}
}

// assertOpenFromWorker checks that a task needing the handle runs while the
// handle is valid.  Tasks queued while Opened always run before a close
// finishes, so anything else is a bug.
func (d *Digitizer) assertOpenFromWorker() {
	d.params.Lock()
	s := d.openState
	d.params.Unlock()
	if s != Opened && s != Closing {
		panic(fmt.Sprintf("caen: %s: hardware task running while %s", d.port, s))
	}
}

func (d *Digitizer) openClose() {
	d.params.Lock()
	state := d.openState
	d.params.Unlock()
	if state != Opening && state != Closing {
		panic(fmt.Sprintf("caen: %s: open/close task running while %s", d.port, state))
	}

	opening := state == Opening
	var ok bool
	if opening {
		ok = d.openDigitizer()
	} else {
		ok = d.closeDigitizer()
	}

	d.params.Lock()
	defer d.params.Unlock()
	if opening == ok {
		d.setOpenState(Opened)
	} else {
		d.setOpenState(Closed)
	}
	switch {
	case ok && opening:
		d.startSettingTasks()
	case ok && !opening:
		d.clearInfo()
		d.setReadbacksUnknown()
	}
	d.params.Notify()
}

func (d *Digitizer) openDigitizer() bool {
	const function = "openDigitizer"
	link, node, err := ParseAddr(d.addr)
	if err != nil {
		d.log.Printf("%s: %v", function, err)
		return false
	}
	d.log.Printf("%s: opening digitizer (link_number=%d conet_node=%d)", function, link, node)
	h, err := d.sdk.Open(d.link, link, node, 0)
	if err != nil {
		d.log.Printf("%s: OpenDigitizer failed: %v", function, err)
		return false
	}
	d.handle = h
	d.log.Printf("%s: digitizer opened", function)
	d.readInfo()
	return true
}

func (d *Digitizer) closeDigitizer() bool {
	const function = "closeDigitizer"
	if err := d.sdk.Close(d.handle); err != nil {
		d.log.Printf("%s: CloseDigitizer failed, assuming the handle is still valid: %v", function, err)
		return false
	}
	d.log.Printf("%s: digitizer closed", function)
	return true
}

// readInfo publishes the identity of the board.  Nothing is published unless
// every read succeeds.
func (d *Digitizer) readInfo() bool {
	const function = "readInfo"
	info, err := d.sdk.GetInfo(d.handle)
	if err != nil {
		d.log.Printf("%s: GetInfo failed: %v", function, err)
		return false
	}
	boardInfo, err := d.readRegister(function, BoardInfoReg)
	if err != nil {
		return false
	}
	memSize := memBlockSamples * int(util.GetBits(boardInfo, 8, 8))

	d.params.Lock()
	defer d.params.Unlock()
	d.params.SetString(ParamInfoModelName, info.ModelName)
	d.params.SetString(ParamInfoROCFWRev, info.ROCFirmwareRel)
	d.params.SetString(ParamInfoAMCFWRev, info.AMCFirmwareRel)
	d.params.SetInt(ParamInfoPCBRevision, info.PCBRevision)
	d.params.SetInt(ParamInfoSerialNum, info.SerialNumber)
	d.params.SetInt(ParamInfoNumChannels, info.Channels)
	d.params.SetInt(ParamInfoFamily, info.FamilyCode)
	d.params.SetInt(ParamInfoChMemSize, memSize)
	d.params.Notify()
	return true
}

// clearInfo empties the identity parameters.  Call with the lock held.
func (d *Digitizer) clearInfo() {
	for _, name := range []string{ParamInfoModelName, ParamInfoROCFWRev, ParamInfoAMCFWRev} {
		d.params.SetString(name, "")
	}
	for _, name := range []string{ParamInfoPCBRevision, ParamInfoSerialNum, ParamInfoNumChannels, ParamInfoFamily, ParamInfoChMemSize} {
		d.params.SetInt(name, 0)
	}
}

func (d *Digitizer) runRequest(t *tracker) {
	d.assertOpenFromWorker()
	d.completeRequest(t, t.run())
}

func (d *Digitizer) resetDigitizer() bool {
	if err := d.sdk.Reset(d.handle); err != nil {
		d.log.Printf("resetDigitizer: Reset failed: %v", err)
		return false
	}
	// the reset restored power-on register values
	d.params.Lock()
	if d.openState == Opened {
		d.startSettingTasks()
	}
	d.params.Unlock()
	return true
}

func (d *Digitizer) calibrateDigitizer() bool {
	if err := d.sdk.Calibrate(d.handle); err != nil {
		d.log.Printf("calibrateDigitizer: Calibrate failed: %v", err)
		return false
	}
	return true
}

// refreshReadbacks re-reads every readback.  It succeeds only if all reads do.
func (d *Digitizer) refreshReadbacks() bool {
	ok := true
	for _, s := range d.settings {
		if !d.readSetting(s) {
			ok = false
		}
	}

	status, err := d.readRegister("refreshReadbacks", AcqStatus)
	d.params.Lock()
	if err == nil {
		d.params.SetInt(ParamAcqRunningRB, int(util.BoolToBit(util.GetBit(status, acqRunningBit))))
		d.params.SetStatus(ParamAcqRunningRB, params.OK)
	} else {
		d.params.SetStatus(ParamAcqRunningRB, params.Error)
		ok = false
	}
	d.params.Notify()
	d.params.Unlock()
	return ok
}

// applySetting writes the desired value of a setting to its register bit and
// reads it back
func (d *Digitizer) applySetting(t worker.Task) {
	s, ok := d.settingsByTask[t]
	if !ok {
		panic(fmt.Sprintf("caen: no setting for task %+v", t))
	}
	d.assertOpenFromWorker()

	d.params.Lock()
	want, err := d.params.GetInt(s.param)
	d.params.Unlock()
	if err != nil {
		panic(err)
	}

	if s.acqControl {
		d.acqControl.Lock()
	}
	err = d.modifyRegister("apply "+s.param, s.reg, s.bit, 1, s.encode(want))
	if s.acqControl {
		d.acqControl.Unlock()
	}
	if err != nil {
		// the readback below still publishes what the board holds
		d.log.Printf("apply %s: not applied: %v", s.param, err)
	}
	d.readSetting(s)
}

// readSetting publishes the readback of a setting.  On failure the prior
// value is kept with Error status.
func (d *Digitizer) readSetting(s *setting) bool {
	v, err := d.readRegister("read "+s.readback, s.reg)
	d.params.Lock()
	defer d.params.Unlock()
	if err == nil {
		d.params.SetInt(s.readback, s.decode(v))
		d.params.SetStatus(s.readback, params.OK)
	} else {
		d.params.SetStatus(s.readback, params.Error)
	}
	d.params.Notify()
	return err == nil
}

func (d *Digitizer) readRegister(function string, r Register) (uint32, error) {
	v, err := d.sdk.ReadRegister(d.handle, r.Addr)
	if err != nil {
		d.log.Printf("%s: ReadRegister(%s) failed: %v", function, r, err)
		return 0, fmt.Errorf("read %s: %w", r.Name, err)
	}
	return v, nil
}

func (d *Digitizer) writeRegister(function string, r Register, value uint32) error {
	if err := d.sdk.WriteRegister(d.handle, r.Addr, value); err != nil {
		d.log.Printf("%s: WriteRegister(%s, 0x%08X) failed: %v", function, r, value, err)
		return fmt.Errorf("write %s: %w", r.Name, err)
	}
	return nil
}

// modifyRegister replaces bits [offset, offset+width) of a register
func (d *Digitizer) modifyRegister(function string, r Register, offset, width uint, value uint32) error {
	v, err := d.readRegister(function, r)
	if err != nil {
		return err
	}
	return d.writeRegister(function, r, util.SetBits(v, offset, width, value))
}
