//go:build caendgtz

package caen

/*
#cgo LDFLAGS: -lCAENDigitizer
#include <stdlib.h>
#include <stdint.h>
#include <CAENDigitizer.h>
*/
import "C"

// HasNativeSDK is true when the library is linked in
const HasNativeSDK = true

type nativeSDK struct{}

// NewSDK returns the CAENDigitizer library binding
func NewSDK() SDK { return nativeSDK{} }

func (nativeSDK) Open(link LinkType, linkNum, conetNode int, vmeBase uint32) (Handle, error) {
	var h C.int
	ret := C.CAEN_DGTZ_OpenDigitizer(C.CAEN_DGTZ_ConnectionType(link), C.int(linkNum), C.int(conetNode), C.uint32_t(vmeBase), &h)
	return Handle(h), Error(int(ret))
}

func (nativeSDK) Close(h Handle) error {
	return Error(int(C.CAEN_DGTZ_CloseDigitizer(C.int(h))))
}

func (nativeSDK) ReadRegister(h Handle, addr uint32) (uint32, error) {
	var v C.uint32_t
	ret := C.CAEN_DGTZ_ReadRegister(C.int(h), C.uint32_t(addr), &v)
	return uint32(v), Error(int(ret))
}

func (nativeSDK) WriteRegister(h Handle, addr, value uint32) error {
	return Error(int(C.CAEN_DGTZ_WriteRegister(C.int(h), C.uint32_t(addr), C.uint32_t(value))))
}

func (nativeSDK) GetInfo(h Handle) (BoardInfo, error) {
	var info C.CAEN_DGTZ_BoardInfo_t
	ret := C.CAEN_DGTZ_GetInfo(C.int(h), &info)
	if err := Error(int(ret)); err != nil {
		return BoardInfo{}, err
	}
	return BoardInfo{
		ModelName:      C.GoString(&info.ModelName[0]),
		Model:          int(info.Model),
		Channels:       int(info.Channels),
		FormFactor:     int(info.FormFactor),
		FamilyCode:     int(info.FamilyCode),
		ROCFirmwareRel: C.GoString(&info.ROC_FirmwareRel[0]),
		AMCFirmwareRel: C.GoString(&info.AMC_FirmwareRel[0]),
		SerialNumber:   int(info.SerialNumber),
		PCBRevision:    int(info.PCB_Revision),
		ADCNBits:       int(info.ADC_NBits),
	}, nil
}

func (nativeSDK) SetAcquisitionMode(h Handle, mode AcqMode) error {
	return Error(int(C.CAEN_DGTZ_SetAcquisitionMode(C.int(h), C.CAEN_DGTZ_AcqMode_t(mode))))
}

func (nativeSDK) SetRecordLength(h Handle, size uint32) error {
	return Error(int(C.CAEN_DGTZ_SetRecordLength(C.int(h), C.uint32_t(size))))
}

func (nativeSDK) SWStartAcquisition(h Handle) error {
	return Error(int(C.CAEN_DGTZ_SWStartAcquisition(C.int(h))))
}

func (nativeSDK) SWStopAcquisition(h Handle) error {
	return Error(int(C.CAEN_DGTZ_SWStopAcquisition(C.int(h))))
}

func (nativeSDK) Reset(h Handle) error {
	return Error(int(C.CAEN_DGTZ_Reset(C.int(h))))
}

func (nativeSDK) Calibrate(h Handle) error {
	return Error(int(C.CAEN_DGTZ_Calibrate(C.int(h))))
}
