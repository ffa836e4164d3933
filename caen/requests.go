package caen

import (
	"context"
	"fmt"

	"github.com/klauer/TRCAEN/params"
)

// WriteInt writes an integer parameter.  Usage errors are returned
// synchronously and leave the cache unchanged; the hardware outcome of an
// accepted write is reported through the parameters.
func (d *Digitizer) WriteInt(name string, value int) error {
	d.params.Lock()
	defer d.params.Unlock()
	err := d.writeInt(name, value)
	d.params.Notify()
	return err
}

// WriteFloat writes a float parameter
func (d *Digitizer) WriteFloat(name string, value float64) error {
	d.params.Lock()
	defer d.params.Unlock()
	if name != ParamHWSampleRate {
		return d.rejectWrite(name, params.Float)
	}
	d.params.SetFloat(ParamHWSampleRate, value)
	d.params.SetStatus(ParamHWSampleRate, params.OK)
	d.params.Notify()
	return nil
}

func (d *Digitizer) writeInt(name string, value int) error {
	switch name {
	case ParamOpenState:
		return d.handleOpenStateRequest(value)
	case ParamReset:
		return d.handleRequest(&d.reset)
	case ParamCalibrate:
		return d.handleRequest(&d.calibrate)
	case ParamRefresh:
		return d.handleRequest(&d.refresh)
	case ParamHWSampleRate:
		d.params.SetFloat(ParamHWSampleRate, float64(value))
		d.params.SetStatus(ParamHWSampleRate, params.OK)
		return nil
	}
	if s, ok := d.settingsByParam[name]; ok {
		return d.handleSettingRequest(s, value)
	}
	return d.rejectWrite(name, params.Int)
}

// rejectWrite explains why name cannot be written as type t
func (d *Digitizer) rejectWrite(name string, t params.Type) error {
	have, err := d.params.TypeOf(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	if have != t && d.writable(name) {
		return fmt.Errorf("%w: %s is %s, not %s", ErrBadValue, name, have, t)
	}
	return fmt.Errorf("%w: %s", ErrReadOnly, name)
}

func (d *Digitizer) writable(name string) bool {
	switch name {
	case ParamOpenState, ParamReset, ParamCalibrate, ParamRefresh, ParamHWSampleRate:
		return true
	}
	_, ok := d.settingsByParam[name]
	return ok
}

// Writable is true if name may be written by a client
func (d *Digitizer) Writable(name string) bool { return d.writable(name) }

func (d *Digitizer) handleOpenStateRequest(value int) error {
	const function = "handleOpenStateRequest"
	request := OpenState(value)
	if request != Opened && request != Closed {
		d.log.Printf("%s: bad value %d written", function, value)
		return fmt.Errorf("%s=%d: %w", ParamOpenState, value, ErrBadValue)
	}
	if d.openState != Opened && d.openState != Closed {
		d.log.Printf("%s: device is already %s", function, d.openState)
		return fmt.Errorf("%s: device is %s: %w", ParamOpenState, d.openState, ErrIllegalState)
	}
	if request == d.openState {
		return nil
	}
	if d.armed {
		d.log.Printf("%s: cannot open or close while armed", function)
		return fmt.Errorf("%s: %w", ParamOpenState, ErrArmed)
	}

	if request == Opened {
		d.setOpenState(Opening)
	} else {
		d.setOpenState(Closing)
	}
	if !d.worker.Start(openCloseTask) {
		panic("caen: open/close task already queued")
	}
	return nil
}

// setOpenState publishes the open state.  Call with the lock held.
func (d *Digitizer) setOpenState(s OpenState) {
	d.openState = s
	d.params.SetInt(ParamOpenState, int(s))
	d.params.SetStatus(ParamOpenState, params.OK)
}

// handleRequest accepts a reset, calibrate or refresh request
func (d *Digitizer) handleRequest(t *tracker) error {
	if d.openState != Opened {
		d.log.Printf("%s: device is not open", t.name)
		return fmt.Errorf("%s: %w", t.param, ErrNotOpen)
	}
	if t.busy {
		return nil
	}
	if d.armed {
		d.log.Printf("%s: cannot %s while armed", t.name, t.name)
		return fmt.Errorf("%s: %w", t.param, ErrArmed)
	}
	t.busy = true
	if !d.worker.Start(t.task) {
		panic(fmt.Sprintf("caen: %s task already queued", t.name))
	}
	d.params.SetInt(t.param, int(Running))
	d.params.SetStatus(t.param, params.OK)
	return nil
}

// completeRequest publishes the outcome of a tracked request and wakes anyone
// waiting for it.  Called by the worker without the lock.
func (d *Digitizer) completeRequest(t *tracker, ok bool) {
	d.params.Lock()
	defer d.params.Unlock()
	t.busy = false
	t.gen++
	if ok {
		d.params.SetInt(t.param, int(Succeeded))
	} else {
		d.params.SetInt(t.param, int(Failed))
	}
	d.params.Notify()
	if t.waitable {
		d.requestDone.Broadcast()
	}
}

func (d *Digitizer) handleSettingRequest(s *setting, value int) error {
	if value != 0 && value != 1 {
		d.log.Printf("%s: bad value %d written", s.param, value)
		return fmt.Errorf("%s=%d: %w", s.param, value, ErrBadValue)
	}
	d.params.SetInt(s.param, value)
	d.params.SetStatus(s.param, params.OK)
	if d.openState == Opened {
		d.worker.Start(s.task)
	}
	return nil
}

// startSettingTasks queues the application of every setting.  Call with the
// lock held.
func (d *Digitizer) startSettingTasks() {
	for _, s := range d.settings {
		d.worker.Start(s.task)
	}
}

// waitForPreconditions blocks until no reset or calibration is in flight.
// It is called with the lock held and releases it while waiting.  Every
// wakeup re-examines all trackers from scratch.
func (d *Digitizer) waitForPreconditions(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		d.params.Lock()
		d.requestDone.Broadcast()
		d.params.Unlock()
	})
	defer stop()

	for {
		var t *tracker
		for _, c := range []*tracker{&d.reset, &d.calibrate} {
			if c.waitable && c.busy {
				t = c
				break
			}
		}
		if t == nil {
			break
		}
		d.log.Printf("waitForPreconditions: waiting for %s to finish", t.name)
		gen := t.gen
		for t.gen == gen {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.requestDone.Wait()
		}
	}
	if d.openState != Opened {
		return fmt.Errorf("waitForPreconditions: %w", ErrNotOpen)
	}
	return nil
}
