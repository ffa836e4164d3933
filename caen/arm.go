package caen

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/snksoft/crc"

	"github.com/klauer/TRCAEN/params"
	"github.com/klauer/TRCAEN/util"
)

// InputRange is the full scale range of a channel
type InputRange int

const (
	// InputRange2V is 2 Vpp
	InputRange2V InputRange = 0

	// InputRange05V is 0.5 Vpp
	InputRange05V InputRange = 1
)

// MaxPulseWidth is the largest self trigger pulse width, in register units
const MaxPulseWidth = 1<<pulseWidthBits - 1

// ChannelSettings is the arm-time configuration of one channel
type ChannelSettings struct {
	InputRange InputRange `json:"inputRange" yaml:"inputRange" koanf:"inputrange"`
	PulseWidth int        `json:"pulseWidth" yaml:"pulseWidth" koanf:"pulsewidth"`
}

// ArmSettings is the snapshot of acquisition settings applied when arming
type ArmSettings struct {
	StartStopMode     AcqMode                         `json:"startStopMode" yaml:"startStopMode" koanf:"startstopmode"`
	RunStartStopDelay float64                         `json:"runStartStopDelay" yaml:"runStartStopDelay" koanf:"runstartstopdelay"`
	NumPostSamples    int                             `json:"numPostSamples" yaml:"numPostSamples" koanf:"numpostsamples"`
	Channels          [MaxNumChannels]ChannelSettings `json:"channels" yaml:"channels" koanf:"channels"`
}

// ArmResult describes an acquisition that was started
type ArmResult struct {
	// SampleRate is the rate to display, the requested HW_SAMPLE_RATE
	SampleRate float64 `json:"sampleRate"`

	// RecordLength is the number of samples per record programmed
	RecordLength int `json:"recordLength"`

	// SettingsCRC is the fingerprint of the applied settings
	SettingsCRC uint16 `json:"settingsCRC"`
}

var crcTable = crc.NewTable(crc.XMODEM)

// Validate checks the settings without touching any hardware
func (s ArmSettings) Validate() error {
	if _, ok := AcqModes[s.StartStopMode]; !ok {
		return fmt.Errorf("%w: START_STOP_MODE %d", ErrBadSettings, s.StartStopMode)
	}
	// also rejects NaN
	if !(s.RunStartStopDelay >= 0 && s.RunStartStopDelay <= math.MaxUint32) {
		return fmt.Errorf("%w: RUN_START_STOP_DELAY %g", ErrBadSettings, s.RunStartStopDelay)
	}
	if s.NumPostSamples < 0 || s.NumPostSamples > math.MaxInt32 {
		return fmt.Errorf("%w: NUM_POST_SAMPLES %d", ErrBadSettings, s.NumPostSamples)
	}
	for ch, c := range s.Channels {
		if c.InputRange != InputRange2V && c.InputRange != InputRange05V {
			return fmt.Errorf("%w: CH%d_INPUT_RANGE %d", ErrBadSettings, ch, c.InputRange)
		}
		if c.PulseWidth < 0 || c.PulseWidth > MaxPulseWidth {
			return fmt.Errorf("%w: CH%d_PULSE_WIDTH %d", ErrBadSettings, ch, c.PulseWidth)
		}
	}
	return nil
}

// Fingerprint is a CRC-16/XMODEM over the settings
func (s ArmSettings) Fingerprint() uint16 {
	var buf bytes.Buffer
	fields := []interface{}{
		int32(s.StartStopMode),
		s.RunStartStopDelay,
		int64(s.NumPostSamples),
	}
	for _, c := range s.Channels {
		fields = append(fields, int32(c.InputRange), int32(c.PulseWidth))
	}
	for _, f := range fields {
		binary.Write(&buf, binary.LittleEndian, f)
	}
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf.Bytes())
	return crcTable.CRC16(crcUint)
}

// RecordLength rounds a number of post-trigger samples up to a multiple of 4,
// saturating at math.MaxInt32
func RecordLength(numPostSamples int) int {
	n := numPostSamples
	if n < 0 {
		return 0
	}
	if rem := n % 4; rem != 0 {
		incr := 4 - rem
		if room := math.MaxInt32 - n; incr > room {
			incr = room
		}
		n += incr
	}
	return n
}

// Arm starts an acquisition.  It fails if the digitizer is not open or is
// already armed.  It waits for any reset or calibration in flight, validates
// the settings and programs the board.  On any failure the digitizer is left
// disarmed.  A Disarm issued meanwhile waits for Arm to return.
func (d *Digitizer) Arm(ctx context.Context, s ArmSettings) (ArmResult, error) {
	d.armMu.Lock()
	defer d.armMu.Unlock()

	d.params.Lock()
	if d.armed {
		d.params.Unlock()
		return ArmResult{}, fmt.Errorf("arm: %w", ErrArmed)
	}
	if d.openState != Opened {
		d.params.Unlock()
		d.log.Printf("arm: device is not open")
		return ArmResult{}, fmt.Errorf("arm: %w", ErrNotOpen)
	}
	d.setArmed(true)
	d.params.Notify()

	err := d.waitForPreconditions(ctx)
	if err == nil {
		err = s.Validate()
		if err != nil {
			d.log.Printf("arm: %v", err)
		}
	}
	if err != nil {
		d.setArmed(false)
		d.params.Notify()
		d.params.Unlock()
		return ArmResult{}, fmt.Errorf("arm: %w", err)
	}
	rate, _ := d.params.GetFloat(ParamHWSampleRate)
	d.params.Unlock()

	res := ArmResult{
		SampleRate:   rate,
		RecordLength: RecordLength(s.NumPostSamples),
		SettingsCRC:  s.Fingerprint(),
	}
	if err := d.startAcquisition(s, res.RecordLength); err != nil {
		d.params.Lock()
		d.setArmed(false)
		d.params.Notify()
		d.params.Unlock()
		return ArmResult{}, fmt.Errorf("arm: %w", err)
	}

	d.params.Lock()
	d.params.SetInt(ParamArmSettingsCRC, int(res.SettingsCRC))
	d.params.Notify()
	d.params.Unlock()
	return res, nil
}

// Disarm stops the acquisition.  Disarming a digitizer that is not armed does
// nothing.  It blocks while an Arm is in progress.
func (d *Digitizer) Disarm() error {
	d.armMu.Lock()
	defer d.armMu.Unlock()

	d.params.Lock()
	armed := d.armed
	d.params.Unlock()
	if !armed {
		return nil
	}

	d.acqControl.Lock()
	err := d.sdk.SWStopAcquisition(d.handle)
	d.acqControl.Unlock()
	if err != nil {
		d.log.Printf("disarm: SWStopAcquisition failed: %v", err)
	}

	d.params.Lock()
	d.setArmed(false)
	d.params.Notify()
	d.params.Unlock()
	if err != nil {
		return fmt.Errorf("disarm: %w", err)
	}
	return nil
}

// setArmed publishes the armed flag.  Call with the lock held.
func (d *Digitizer) setArmed(b bool) {
	d.armed = b
	d.params.SetInt(ParamArmed, int(util.BoolToBit(b)))
	d.params.SetStatus(ParamArmed, params.OK)
}

// startAcquisition programs the board and starts it.  It runs without the
// cache lock and holds the AcqControl lock throughout.
func (d *Digitizer) startAcquisition(s ArmSettings, recordLength int) error {
	const function = "startAcquisition"
	d.params.Lock()
	state := d.openState
	d.params.Unlock()
	if state != Opened {
		panic(fmt.Sprintf("caen: %s: starting acquisition while %s", d.port, state))
	}

	d.acqControl.Lock()
	defer d.acqControl.Unlock()

	if err := d.sdk.SetAcquisitionMode(d.handle, s.StartStopMode); err != nil {
		d.log.Printf("%s: SetAcquisitionMode failed: %v", function, err)
		return fmt.Errorf("set acquisition mode: %w", err)
	}
	if err := d.writeRegister(function, RunStartStopDelay, uint32(s.RunStartStopDelay)); err != nil {
		return err
	}
	if err := d.sdk.SetRecordLength(d.handle, uint32(recordLength)); err != nil {
		d.log.Printf("%s: SetRecordLength failed: %v", function, err)
		return fmt.Errorf("set record length: %w", err)
	}
	for ch, c := range s.Channels {
		gain := util.BoolToBit(c.InputRange == InputRange05V)
		if err := d.writeRegister(function, ChannelGain[ch], gain); err != nil {
			return err
		}
		if err := d.modifyRegister(function, ChannelPulseWidth[ch], 0, pulseWidthBits, uint32(c.PulseWidth)); err != nil {
			return err
		}
	}
	if err := d.sdk.SWStartAcquisition(d.handle); err != nil {
		d.log.Printf("%s: SWStartAcquisition failed: %v", function, err)
		return fmt.Errorf("start acquisition: %w", err)
	}
	return nil
}
