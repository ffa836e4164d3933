package caen

import (
	"errors"
	"fmt"
)

// ErrorCode is a return code from the CAENDigitizer library
type ErrorCode int

// Return codes of the CAENDigitizer library
const (
	Success                  ErrorCode = 0
	CommError                ErrorCode = -1
	GenericError             ErrorCode = -2
	InvalidParam             ErrorCode = -3
	InvalidLinkType          ErrorCode = -4
	InvalidHandle            ErrorCode = -5
	MaxDevicesError          ErrorCode = -6
	BadBoardType             ErrorCode = -7
	BadInterruptLev          ErrorCode = -8
	BadEventNumber           ErrorCode = -9
	ReadDeviceRegisterFail   ErrorCode = -10
	WriteDeviceRegisterFail  ErrorCode = -11
	InvalidChannelNumber     ErrorCode = -13
	ChannelBusy              ErrorCode = -14
	FPIOModeInvalid          ErrorCode = -15
	WrongAcqMode             ErrorCode = -16
	FunctionNotAllowed       ErrorCode = -17
	Timeout                  ErrorCode = -18
	InvalidBuffer            ErrorCode = -19
	EventNotFound            ErrorCode = -20
	InvalidEvent             ErrorCode = -21
	OutOfMemory              ErrorCode = -22
	CalibrationError         ErrorCode = -23
	DigitizerNotFound        ErrorCode = -24
	DigitizerAlreadyOpen     ErrorCode = -25
	DigitizerNotReady        ErrorCode = -26
	InterruptNotConfigured   ErrorCode = -27
	DigitizerMemoryCorrupted ErrorCode = -28
	DPPFirmwareNotSupported  ErrorCode = -29
	InvalidLicense           ErrorCode = -30
	InvalidDigitizerStatus   ErrorCode = -31
	UnsupportedTrace         ErrorCode = -32
	InvalidProbe             ErrorCode = -33
	NotYetImplemented        ErrorCode = -99
)

// ErrCodes maps library return codes to their descriptions
var ErrCodes = map[ErrorCode]string{
	Success:                  "Operation completed successfully",
	CommError:                "Communication error",
	GenericError:             "Unspecified error",
	InvalidParam:             "Invalid parameter",
	InvalidLinkType:          "Invalid Link Type",
	InvalidHandle:            "Invalid device handle",
	MaxDevicesError:          "Maximum number of devices exceeded",
	BadBoardType:             "The operation is not allowed on this type of board",
	BadInterruptLev:          "The interrupt level is not allowed",
	BadEventNumber:           "The event number is bad",
	ReadDeviceRegisterFail:   "Unable to read the registry",
	WriteDeviceRegisterFail:  "Unable to write into the registry",
	InvalidChannelNumber:     "The channel number is invalid",
	ChannelBusy:              "The Channel is busy",
	FPIOModeInvalid:          "Invalid FPIO Mode",
	WrongAcqMode:             "Wrong acquisition mode",
	FunctionNotAllowed:       "This function is not allowed for this module",
	Timeout:                  "Communication Timeout",
	InvalidBuffer:            "The buffer is invalid",
	EventNotFound:            "The event is not found",
	InvalidEvent:             "The event is invalid",
	OutOfMemory:              "Out of memory",
	CalibrationError:         "Unable to calibrate the board",
	DigitizerNotFound:        "Unable to open the digitizer",
	DigitizerAlreadyOpen:     "The Digitizer is already open",
	DigitizerNotReady:        "The Digitizer is not ready to operate",
	InterruptNotConfigured:   "The Digitizer has not the IRQ configured",
	DigitizerMemoryCorrupted: "The digitizer flash memory is corrupted",
	DPPFirmwareNotSupported:  "The digitizer dpp firmware is not supported in this lib version",
	InvalidLicense:           "Invalid Firmware License",
	InvalidDigitizerStatus:   "The digitizer is found in a corrupted status",
	UnsupportedTrace:         "The given trace is not supported by the digitizer",
	InvalidProbe:             "The given probe is not supported for the given digitizer's trace",
	NotYetImplemented:        "The function is not yet implemented",
}

// Description returns the text for a return code, or "(unknown error code)"
func (e ErrorCode) Description() string {
	if s, ok := ErrCodes[e]; ok {
		return s
	}
	return "(unknown error code)"
}

func (e ErrorCode) Error() string {
	return fmt.Sprintf("%d - %s", int(e), e.Description())
}

// Error returns nil on success or an ErrorCode for any other return code
func Error(code int) error {
	if code == int(Success) {
		return nil
	}
	return ErrorCode(code)
}

// usage errors returned synchronously to the writer of a parameter
var (
	// ErrBadValue is generated when a written value is outside the allowed set
	ErrBadValue = errors.New("bad value")

	// ErrIllegalState is generated when a request is not allowed in the current state
	ErrIllegalState = errors.New("illegal state")

	// ErrNotOpen is generated when an operation requires the device to be open
	ErrNotOpen = errors.New("device is not open")

	// ErrArmed is generated when an operation is not allowed while armed
	ErrArmed = errors.New("device is armed")

	// ErrUnknownParam is generated for a parameter name the digitizer does not have
	ErrUnknownParam = errors.New("unknown parameter")

	// ErrReadOnly is generated when writing a readback or info parameter
	ErrReadOnly = errors.New("parameter is read only")

	// ErrBadSettings is generated when the arm-time settings do not validate
	ErrBadSettings = errors.New("invalid acquisition settings")
)
