package notwebusb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func buildAuthenticateAPDU(control AuthenticateControl, appParam [32]byte, keyHandle []byte) []byte {
	body := make([]byte, 0, 65+len(keyHandle))
	body = append(body, make([]byte, 32)...) // challenge, unused by this device
	body = append(body, appParam[:]...)
	body = append(body, byte(len(keyHandle)))
	body = append(body, keyHandle...)

	apdu := []byte{0x00, byte(insAuthenticate), byte(control), 0x00, 0x00}
	lenBytes := make([]byte, 2)
	putBE16(lenBytes, uint16(len(body)))
	apdu = append(apdu, lenBytes...)
	apdu = append(apdu, body...)
	return apdu
}

func TestDecodeAPDU_Version(t *testing.T) {
	msg := []byte{0x00, byte(insVersion), 0x00, 0x00, 0x00, 0x00, 0x00}
	req := decodeAPDU(msg)
	assert.Equal(t, insVersion, req.ins)
}

func TestDecodeAPDU_Authenticate(t *testing.T) {
	var appParam [32]byte
	appParam[0] = 0xAB
	keyHandle := []byte{0x01, byte(headerFinalChunk), 'h', 'i'}
	msg := buildAuthenticateAPDU(AuthEnforcePresence, appParam, keyHandle)

	req := decodeAPDU(msg)
	require.Equal(t, insAuthenticate, req.ins)
	assert.Equal(t, AuthEnforcePresence, req.control)
	assert.Equal(t, appParam, req.applicationParameter)
	assert.Equal(t, keyHandle, req.keyHandle)
}

func TestHandleU2FMessage_VersionReturnsU2FV2(t *testing.T) {
	msg := []byte{0x00, byte(insVersion), 0x00, 0x00, 0x00, 0x00, 0x00}
	outcome := handleU2FMessage(msg, AcceptAllOrigins)
	require.Equal(t, u2fOutcomeImmediateResponse, outcome.kind)
	assert.Contains(t, string(outcome.responseBytes), "U2F_V2")
}

func TestHandleU2FMessage_CheckOnlyIsImmediate(t *testing.T) {
	var appParam [32]byte
	msg := buildAuthenticateAPDU(AuthCheckOnly, appParam, []byte{0})
	outcome := handleU2FMessage(msg, AcceptAllOrigins)
	require.Equal(t, u2fOutcomeImmediateResponse, outcome.kind)
	assert.Equal(t, uint16(statusConditionsNotSatisfied), beUint16(outcome.responseBytes[len(outcome.responseBytes)-2:]))
}

func TestHandleU2FMessage_AcceptedOriginTunnels(t *testing.T) {
	var appParam [32]byte
	keyHandle := []byte{byte(headerFinalChunk), 'd', 'a', 't', 'a'}
	msg := buildAuthenticateAPDU(AuthEnforcePresence, appParam, keyHandle)
	outcome := handleU2FMessage(msg, AcceptAllOrigins)
	require.Equal(t, u2fOutcomeTunnelChunk, outcome.kind)
	assert.Equal(t, keyHandle, outcome.tunnelChunk)
}

func TestHandleU2FMessage_RejectedOriginGetsEmptySignature(t *testing.T) {
	var appParam [32]byte
	keyHandle := []byte{byte(headerFinalChunk), 'd', 'a', 't', 'a'}
	msg := buildAuthenticateAPDU(AuthEnforcePresence, appParam, keyHandle)
	reject := func([32]byte) bool { return false }

	outcome := handleU2FMessage(msg, reject)
	require.Equal(t, u2fOutcomeImmediateResponse, outcome.kind)
	assert.Equal(t, uint16(statusSuccess), beUint16(outcome.responseBytes[len(outcome.responseBytes)-2:]))
}

func TestHandleU2FMessage_UnknownInstructionNotSupported(t *testing.T) {
	msg := []byte{0x00, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00}
	outcome := handleU2FMessage(msg, AcceptAllOrigins)
	require.Equal(t, u2fOutcomeImmediateResponse, outcome.kind)
	assert.Equal(t, uint16(statusInsNotSupported), beUint16(outcome.responseBytes))
}

func TestBuildSmuggledSignature_FirstCallReservesLengthPrefix(t *testing.T) {
	response := []byte("the quick brown fox jumps over the lazy dog, twice over for good measure")
	var sent uint32
	sig := buildSmuggledSignature(response, &sent)

	require.Len(t, sig, 0x46)
	assert.Equal(t, byte(0x30), sig[0])
	assert.Equal(t, byte(0x44), sig[1])
	assert.Equal(t, byte(0x02), sig[2])
	assert.Equal(t, byte(smuggleIntegerBodyLen), sig[3])
	assert.Equal(t, byte(0x7F), sig[4])

	lengthPrefix := beUint32(sig[5:9])
	assert.Equal(t, uint32(len(response)), lengthPrefix)
	assert.Equal(t, uint32(smuggleFirstPayload+smuggleIntegerPayload), sent)
}

// TestBuildSmuggledSignature_PropertyRoundTrip exercises the chunking
// behavior across many response lengths and confirms: every chunk is
// exactly 0x46 bytes, the embedded total-length prefix always matches
// len(response), and re-assembling the payload bytes written across all
// chunks (skipping the reserved length-prefix bytes in the first chunk)
// reproduces the original response, zero-padding included.
func TestBuildSmuggledSignature_PropertyRoundTrip(t *testing.T) {
	const secondIntegerPayloadOffset = 2 + (3 + 4 + smuggleFirstPayload) + 3 // 39

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 300).Draw(t, "n")
		response := rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "response")

		var sent uint32
		var reassembled []byte
		for call := 0; int(sent) < len(response) || call == 0; call++ {
			sig := buildSmuggledSignature(response, &sent)
			require.Len(t, sig, 0x46)

			if call == 0 {
				lengthPrefix := beUint32(sig[5:9])
				assert.Equal(t, uint32(len(response)), lengthPrefix)
				reassembled = append(reassembled, sig[9:9+smuggleFirstPayload]...)
			} else {
				reassembled = append(reassembled, sig[5:5+smuggleIntegerPayload]...)
			}
			reassembled = append(reassembled, sig[secondIntegerPayloadOffset:secondIntegerPayloadOffset+smuggleIntegerPayload]...)

			if int(sent) >= len(response) {
				break
			}
		}

		want := append(append([]byte{}, response...), make([]byte, len(reassembled)-len(response))...)
		assert.Equal(t, want, reassembled)
	})
}
