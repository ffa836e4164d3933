package caen

// LinkType is the physical connection to the digitizer
type LinkType int

const (
	// USB is a direct USB connection
	USB LinkType = 0

	// OpticalLink is a CONET optical link through an A2818/A3818 controller
	OpticalLink LinkType = 1
)

// Handle is an open digitizer as returned by the library
type Handle int

// AcqMode selects how acquisition is started and stopped
type AcqMode int

const (
	// SWControlled starts and stops on software command
	SWControlled AcqMode = 0

	// SInControlled follows the S-IN front panel input
	SInControlled AcqMode = 1

	// FirstTrgControlled starts on the first trigger
	FirstTrgControlled AcqMode = 2
)

// AcqModes is the set of modes accepted at arm time
var AcqModes = map[AcqMode]string{
	SWControlled:       "software",
	SInControlled:      "S-IN",
	FirstTrgControlled: "first trigger",
}

// BoardInfo is the identity of the board
type BoardInfo struct {
	ModelName      string
	Model          int
	Channels       int
	FormFactor     int
	FamilyCode     int
	ROCFirmwareRel string
	AMCFirmwareRel string
	SerialNumber   int
	PCBRevision    int
	ADCNBits       int
}

// SDK is the subset of the CAENDigitizer library used by the driver.
// Failures are returned as ErrorCode values.
type SDK interface {
	Open(link LinkType, linkNum, conetNode int, vmeBase uint32) (Handle, error)
	Close(h Handle) error
	ReadRegister(h Handle, addr uint32) (uint32, error)
	WriteRegister(h Handle, addr, value uint32) error
	GetInfo(h Handle) (BoardInfo, error)
	SetAcquisitionMode(h Handle, mode AcqMode) error
	SetRecordLength(h Handle, size uint32) error
	SWStartAcquisition(h Handle) error
	SWStopAcquisition(h Handle) error
	Reset(h Handle) error
	Calibrate(h Handle) error
}
