package caenusb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gousb"
)

func TestIsCAEN(t *testing.T) {
	if !IsCAEN(&gousb.DeviceDesc{Vendor: 0x21E1, Product: 0x0000}) {
		t.Error("CAEN vendor ID not recognized")
	}
	if IsCAEN(&gousb.DeviceDesc{Vendor: 0x1313, Product: 0x804a}) {
		t.Error("ThorLabs device taken for a CAEN board")
	}
}

func TestNumber(t *testing.T) {
	devs := number([]Device{
		{Bus: 2, Address: 1, Serial: "c"},
		{Bus: 1, Address: 7, Serial: "b"},
		{Bus: 1, Address: 3, Serial: "a"},
	})
	want := []Device{
		{Bus: 1, Address: 3, Serial: "a", LinkNumber: 0},
		{Bus: 1, Address: 7, Serial: "b", LinkNumber: 1},
		{Bus: 2, Address: 1, Serial: "c", LinkNumber: 2},
	}
	if diff := cmp.Diff(want, devs); diff != "" {
		t.Errorf("numbering mismatch (-want +got):\n%s", diff)
	}
}
