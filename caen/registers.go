package caen

import "fmt"

// MaxNumChannels is the number of input channels on the board
const MaxNumChannels = 8

// NumChannelPairs is the number of self trigger channel pairs
const NumChannelPairs = MaxNumChannels / 2

// Register is a named VME register of the digitizer
type Register struct {
	Name string
	Addr uint32
}

func (r Register) String() string {
	return fmt.Sprintf("%s(0x%04X)", r.Name, r.Addr)
}

// board level registers
var (
	AcqControl              = Register{"AcqControl", 0x8100}
	AcqStatus               = Register{"AcqStatus", 0x8104}
	TriggerSourceEnableMask = Register{"TriggerSourceEnableMask", 0x810C}
	BoardInfoReg            = Register{"BoardInfo", 0x8140}
	FanSpeedControl         = Register{"FanSpeedControl", 0x8168}
	RunStartStopDelay       = Register{"RunStartStopDelay", 0x8170}
)

// per channel registers, indexed by channel
var (
	ChannelGain       = channelRegisters("Gain", 0x1028)
	ChannelPulseWidth = channelRegisters("PulseWidth", 0x1070)
)

func channelRegisters(suffix string, base uint32) [MaxNumChannels]Register {
	var out [MaxNumChannels]Register
	for ch := range out {
		out[ch] = Register{
			Name: fmt.Sprintf("Channel%d%s", ch, suffix),
			Addr: base + 0x100*uint32(ch),
		}
	}
	return out
}

// bit positions within the registers above
const (
	fanSpeedFullBit  = 3  // FanSpeedControl, 1 = full speed
	clockExternalBit = 6  // AcqControl, 1 = external clock
	acqStartBit      = 2  // AcqControl, 1 = run
	acqModeBits      = 2  // AcqControl [0,2), start/stop mode
	acqRunningBit    = 2  // AcqStatus, 1 = acquisition running
	swTriggerBit     = 31 // TriggerSourceEnableMask, 1 = enabled
	extTriggerBit    = 30 // TriggerSourceEnableMask, 1 = enabled
	// TriggerSourceEnableMask bit N enables self trigger of channel pair N

	pulseWidthBits = 8
)

// memory per block reported in BoardInfo bits [8,16), in samples
const memBlockSamples = 640000
