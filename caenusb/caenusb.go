// Package caenusb finds CAEN digitizers attached over USB
package caenusb

import (
	"fmt"
	"sort"

	"github.com/google/gousb"
)

// VID is the CAEN USB vendor ID
const VID gousb.ID = 0x21E1

// Device is one attached board.  LinkNumber is the link number to open it
// with, boards are numbered in bus/address order.
type Device struct {
	Bus        int      `json:"bus" yaml:"bus"`
	Address    int      `json:"address" yaml:"address"`
	Vendor     gousb.ID `json:"vendor" yaml:"vendor"`
	Product    gousb.ID `json:"product" yaml:"product"`
	Serial     string   `json:"serial" yaml:"serial"`
	Name       string   `json:"name" yaml:"name"`
	LinkNumber int      `json:"linkNumber" yaml:"linkNumber"`
}

func (d Device) String() string {
	return fmt.Sprintf("link %d: %s (serial %s) bus %03d address %03d [%s:%s]",
		d.LinkNumber, d.Name, d.Serial, d.Bus, d.Address, d.Vendor, d.Product)
}

// IsCAEN is true for descriptors with the CAEN vendor ID
func IsCAEN(desc *gousb.DeviceDesc) bool {
	return desc.Vendor == VID
}

// Scan lists the attached boards
func Scan() ([]Device, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(IsCAEN)
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	// OpenDevices returns the devices it could open along with the first error
	if err != nil && len(devs) == 0 {
		return nil, err
	}

	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		dev := Device{
			Bus:     d.Desc.Bus,
			Address: d.Desc.Address,
			Vendor:  d.Desc.Vendor,
			Product: d.Desc.Product,
		}
		if s, err := d.SerialNumber(); err == nil {
			dev.Serial = s
		}
		if s, err := d.Product(); err == nil {
			dev.Name = s
		}
		out = append(out, dev)
	}
	return number(out), nil
}

// number sorts devices by bus and address and assigns link numbers
func number(devs []Device) []Device {
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].Bus != devs[j].Bus {
			return devs[i].Bus < devs[j].Bus
		}
		return devs[i].Address < devs[j].Address
	})
	for i := range devs {
		devs[i].LinkNumber = i
	}
	return devs
}
