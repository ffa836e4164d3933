package caen

import (
	"fmt"
	"sync"

	"github.com/klauer/TRCAEN/util"
)

// MockSDK simulates a single V1751 digitizer as a register file.
//
// Faults and RegFaults inject library errors by operation name ("Open",
// "ReadRegister", "Reset", ...) or by register address.  Hook, if set, is
// called with the operation name before each call, without the mock's lock
// held, so a test can block the caller.  The calls that modify AcqControl
// call it between their read and their write of the register.
type MockSDK struct {
	sync.Mutex

	Info      BoardInfo
	Faults    map[string]ErrorCode
	RegFaults map[uint32]ErrorCode
	Hook      func(op string)

	regs         map[uint32]uint32
	calls        []string
	open         bool
	handle       Handle
	link, node   int
	running      bool
	mode         AcqMode
	recordLength uint32
}

// NewMockSDK returns a closed mock digitizer with power-on register values
func NewMockSDK() *MockSDK {
	m := &MockSDK{
		Info: BoardInfo{
			ModelName:      "V1751",
			Model:          4,
			Channels:       MaxNumChannels,
			FormFactor:     0,
			FamilyCode:     5,
			ROCFirmwareRel: "04.24 - Build 1A19",
			AMCFirmwareRel: "01.06 - Build 1A19",
			SerialNumber:   1234,
			PCBRevision:    1,
			ADCNBits:       10,
		},
		Faults:    make(map[string]ErrorCode),
		RegFaults: make(map[uint32]ErrorCode),
	}
	m.powerOn()
	return m
}

func (m *MockSDK) powerOn() {
	m.regs = map[uint32]uint32{
		BoardInfoReg.Addr:            0x00000204, // 2 blocks of memory
		TriggerSourceEnableMask.Addr: 0x40000000, // external trigger only
	}
	m.running = false
	m.mode = SWControlled
	m.recordLength = 0
}

func (m *MockSDK) hook(op string) {
	m.Lock()
	h := m.Hook
	m.Unlock()
	if h != nil {
		h(op)
	}
}

// check records the call and applies fault injection.  Call with the lock held.
func (m *MockSDK) check(op, detail string, h Handle) error {
	m.calls = append(m.calls, op+detail)
	if code, ok := m.Faults[op]; ok && code != Success {
		return code
	}
	if !m.open || h != m.handle {
		return InvalidHandle
	}
	return nil
}

// Calls returns the operations performed so far, registers formatted as
// "ReadRegister(0x8168)"
func (m *MockSDK) Calls() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.calls...)
}

// ClearCalls forgets the operations performed so far
func (m *MockSDK) ClearCalls() {
	m.Lock()
	m.calls = nil
	m.Unlock()
}

// Reg returns the raw content of a register
func (m *MockSDK) Reg(addr uint32) uint32 {
	m.Lock()
	defer m.Unlock()
	return m.regs[addr]
}

// SetReg overwrites a register, as the hardware or another client might
func (m *MockSDK) SetReg(addr, value uint32) {
	m.Lock()
	m.regs[addr] = value
	m.Unlock()
}

// Running is true between SWStartAcquisition and SWStopAcquisition
func (m *MockSDK) Running() bool {
	m.Lock()
	defer m.Unlock()
	return m.running
}

// Acquisition returns the last acquisition mode and record length set
func (m *MockSDK) Acquisition() (AcqMode, uint32) {
	m.Lock()
	defer m.Unlock()
	return m.mode, m.recordLength
}

// IsOpen is true while the mock holds an open handle
func (m *MockSDK) IsOpen() bool {
	m.Lock()
	defer m.Unlock()
	return m.open
}

// Opened returns the link number and conet node of the last open
func (m *MockSDK) Opened() (link, node int) {
	m.Lock()
	defer m.Unlock()
	return m.link, m.node
}

// Open opens the mock.  Only one handle may be open at a time.
func (m *MockSDK) Open(link LinkType, linkNum, conetNode int, vmeBase uint32) (Handle, error) {
	m.hook("Open")
	m.Lock()
	defer m.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("Open(%d:%d)", linkNum, conetNode))
	if code, ok := m.Faults["Open"]; ok && code != Success {
		return 0, code
	}
	if link != OpticalLink && link != USB {
		return 0, InvalidLinkType
	}
	if m.open {
		return 0, DigitizerAlreadyOpen
	}
	m.open = true
	m.handle++
	m.link, m.node = linkNum, conetNode
	return m.handle, nil
}

// Close closes the mock
func (m *MockSDK) Close(h Handle) error {
	m.hook("Close")
	m.Lock()
	defer m.Unlock()
	if err := m.check("Close", "", h); err != nil {
		return err
	}
	m.open = false
	m.running = false
	m.regs[AcqControl.Addr] = util.SetBit(m.regs[AcqControl.Addr], acqStartBit, false)
	return nil
}

// ReadRegister reads one register
func (m *MockSDK) ReadRegister(h Handle, addr uint32) (uint32, error) {
	m.hook("ReadRegister")
	m.Lock()
	defer m.Unlock()
	if err := m.check("ReadRegister", fmt.Sprintf("(0x%04X)", addr), h); err != nil {
		return 0, err
	}
	if code, ok := m.RegFaults[addr]; ok && code != Success {
		return 0, code
	}
	v := m.regs[addr]
	if addr == AcqStatus.Addr {
		v = util.SetBit(v, acqRunningBit, m.running)
	}
	return v, nil
}

// WriteRegister writes one register
func (m *MockSDK) WriteRegister(h Handle, addr, value uint32) error {
	m.hook("WriteRegister")
	m.Lock()
	defer m.Unlock()
	if err := m.check("WriteRegister", fmt.Sprintf("(0x%04X)", addr), h); err != nil {
		return err
	}
	if code, ok := m.RegFaults[addr]; ok && code != Success {
		return code
	}
	m.regs[addr] = value
	return nil
}

// GetInfo returns m.Info
func (m *MockSDK) GetInfo(h Handle) (BoardInfo, error) {
	m.hook("GetInfo")
	m.Lock()
	defer m.Unlock()
	if err := m.check("GetInfo", "", h); err != nil {
		return BoardInfo{}, err
	}
	return m.Info, nil
}

// modifyAcqControl is the library's read-modify-write of AcqControl.  Hook
// runs between the read and the write, where another writer of the register
// can overtake the library.
func (m *MockSDK) modifyAcqControl(op string, h Handle, modify func(uint32) (uint32, error)) error {
	m.Lock()
	if err := m.check(op, "", h); err != nil {
		m.Unlock()
		return err
	}
	v := m.regs[AcqControl.Addr]
	m.Unlock()

	m.hook(op)

	m.Lock()
	defer m.Unlock()
	v, err := modify(v)
	if err != nil {
		return err
	}
	m.regs[AcqControl.Addr] = v
	return nil
}

// SetAcquisitionMode writes the mode bits of AcqControl
func (m *MockSDK) SetAcquisitionMode(h Handle, mode AcqMode) error {
	return m.modifyAcqControl("SetAcquisitionMode", h, func(v uint32) (uint32, error) {
		if _, ok := AcqModes[mode]; !ok {
			return v, InvalidParam
		}
		m.mode = mode
		return util.SetBits(v, 0, acqModeBits, uint32(mode)), nil
	})
}

// SetRecordLength stores the record length
func (m *MockSDK) SetRecordLength(h Handle, size uint32) error {
	m.hook("SetRecordLength")
	m.Lock()
	defer m.Unlock()
	if err := m.check("SetRecordLength", "", h); err != nil {
		return err
	}
	m.recordLength = size
	return nil
}

// SWStartAcquisition sets the start bit of AcqControl
func (m *MockSDK) SWStartAcquisition(h Handle) error {
	return m.modifyAcqControl("SWStartAcquisition", h, func(v uint32) (uint32, error) {
		m.running = true
		return util.SetBit(v, acqStartBit, true), nil
	})
}

// SWStopAcquisition clears the start bit of AcqControl
func (m *MockSDK) SWStopAcquisition(h Handle) error {
	return m.modifyAcqControl("SWStopAcquisition", h, func(v uint32) (uint32, error) {
		m.running = false
		return util.SetBit(v, acqStartBit, false), nil
	})
}

// Reset restores the power-on register values
func (m *MockSDK) Reset(h Handle) error {
	m.hook("Reset")
	m.Lock()
	defer m.Unlock()
	if err := m.check("Reset", "", h); err != nil {
		return err
	}
	m.powerOn()
	return nil
}

// Calibrate does nothing
func (m *MockSDK) Calibrate(h Handle) error {
	m.hook("Calibrate")
	m.Lock()
	defer m.Unlock()
	return m.check("Calibrate", "", h)
}
