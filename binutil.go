package notwebusb

import "encoding/binary"

// putBE32 writes v into out as 4 big-endian bytes.
func putBE32(out []byte, v uint32) {
	binary.BigEndian.PutUint32(out, v)
}

// putBE16 writes v into out as 2 big-endian bytes.
func putBE16(out []byte, v uint16) {
	binary.BigEndian.PutUint16(out, v)
}

func beUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func beUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// zeroFill returns a slice of length n with every byte set to 0.
// CTAPHID reports are always zero-filled before encoding so that trailing,
// unused bytes are deterministic on the wire.
func zeroFill(n int) []byte {
	return make([]byte, n)
}
