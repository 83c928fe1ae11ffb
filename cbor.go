package notwebusb

// getInfoCBOR is a hardcoded CTAP2 authenticatorGetInfo response declaring
// only the U2F_V2 version and a fixed AAGUID. Browsers relying on Windows'
// WebAuthn platform stack probe the authenticator with this CBOR command
// before falling back to U2F; answering it is the only CBOR behavior this
// device needs. Pulling in a real CBOR encoder for one fixed response would
// cost more than it's worth, so the bytes are hardcoded instead (base spec
// §4.5) - any change to the AAGUID or version list requires recomputing
// this blob by hand.
//
// Equivalent to encoding:
//
//	struct GetInfo struct {
//	    Versions []string `cbor:"versions"`
//	    AAGUID   []byte   `cbor:"aaguid"`
//	}
//	GetInfo{Versions: []string{"U2F_V2"}, AAGUID: notWebUsbAAGUID[:]}
var getInfoCBOR = []byte{
	0xA2, 0x68, 0x76, 0x65, 0x72, 0x73, 0x69, 0x6F, 0x6E, 0x73, 0x81, 0x66, 0x55, 0x32, 0x46, 0x5F,
	0x56, 0x32, 0x66, 0x61, 0x61, 0x67, 0x75, 0x69, 0x64, 0x50, 0xE3, 0xB1, 0x76, 0x8B, 0x55, 0x91,
	0x4A, 0xD7, 0xB4, 0x6E, 0xAC, 0xC7, 0x60, 0x84, 0x0B, 0x3E,
}

// notWebUsbAAGUID is the 16-byte authenticator model id embedded in
// getInfoCBOR, broken out separately only for documentation purposes; the
// wire bytes above are authoritative.
var notWebUsbAAGUID = [16]byte{
	0xE3, 0xB1, 0x76, 0x8B, 0x55, 0x91, 0x4A, 0xD7, 0xB4, 0x6E, 0xAC, 0xC7, 0x60, 0x84, 0x0B, 0x3E,
}
