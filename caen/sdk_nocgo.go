//go:build !caendgtz

package caen

// HasNativeSDK is true when the library is linked in
const HasNativeSDK = false

// NewSDK returns an SDK whose every call fails with NotYetImplemented.
// Build with -tags caendgtz to link the CAENDigitizer library.
func NewSDK() SDK { return missingSDK{} }

type missingSDK struct{}

func (missingSDK) Open(LinkType, int, int, uint32) (Handle, error) { return 0, NotYetImplemented }
func (missingSDK) Close(Handle) error                               { return NotYetImplemented }
func (missingSDK) ReadRegister(Handle, uint32) (uint32, error)      { return 0, NotYetImplemented }
func (missingSDK) WriteRegister(Handle, uint32, uint32) error       { return NotYetImplemented }
func (missingSDK) GetInfo(Handle) (BoardInfo, error)                { return BoardInfo{}, NotYetImplemented }
func (missingSDK) SetAcquisitionMode(Handle, AcqMode) error         { return NotYetImplemented }
func (missingSDK) SetRecordLength(Handle, uint32) error             { return NotYetImplemented }
func (missingSDK) SWStartAcquisition(Handle) error                  { return NotYetImplemented }
func (missingSDK) SWStopAcquisition(Handle) error                   { return NotYetImplemented }
func (missingSDK) Reset(Handle) error                               { return NotYetImplemented }
func (missingSDK) Calibrate(Handle) error                           { return NotYetImplemented }
