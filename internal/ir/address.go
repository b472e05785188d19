package ir

// A composite address identifies one REIL instruction: the native
// address in the high bits and the REIL offset in the low byte.

// EncodeAddress combines a native address with a REIL offset.
// Raw addresses must fit in 56 bits for the encoding to be reversible.
func EncodeAddress(raw uint64, offset uint8) uint64 {
	return raw<<8 | uint64(offset)
}

// AddressOffset returns the REIL offset stored in a composite address.
func AddressOffset(composite uint64) uint8 {
	return uint8(composite)
}

// AddressRaw returns the native address stored in a composite address.
func AddressRaw(composite uint64) uint64 {
	return composite >> 8
}
