// Package util contains misc internal utilities.
//
// The bit helpers operate on 32-bit register values.  Bit offsets count from
// the LSB; a field is numBits wide starting at bitOffset.  numBits must be in
// the range [1, 32] and bitOffset+numBits must not exceed 32.
package util

// GetBit returns the value of a given bit in a register value
func GetBit(reg uint32, bit uint) bool {
	return reg&(1<<bit) != 0
}

// SetBit returns reg with the given bit set or cleared
func SetBit(reg uint32, bit uint, value bool) uint32 {
	if value {
		return reg | 1<<bit
	}
	return reg &^ (1 << bit)
}

// MakeMask returns a mask with the numBits low bits set.
// Built from the top bit down so that numBits == 32 does not overflow.
func MakeMask(numBits uint) uint32 {
	top := uint32(1) << (numBits - 1)
	return top | (top - 1)
}

// GetBits extracts the field at [bitOffset, bitOffset+numBits) from reg
func GetBits(reg uint32, bitOffset, numBits uint) uint32 {
	mask := MakeMask(numBits) << bitOffset
	return (reg & mask) >> bitOffset
}

// SetBits returns reg with the field at [bitOffset, bitOffset+numBits)
// replaced by value.  Bits of value above numBits are discarded, and all
// bits of reg outside the field are preserved.
func SetBits(reg uint32, bitOffset, numBits uint, value uint32) uint32 {
	rel := MakeMask(numBits)
	mask := rel << bitOffset
	return (reg &^ mask) | ((value & rel) << bitOffset)
}

// BoolToBit converts a bool to 0 or 1
func BoolToBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
