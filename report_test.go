package notwebusb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_Ping(t *testing.T) {
	var raw RawReport
	putBE32(raw[0:4], 0x11223344)
	raw[4] = byte(CmdPing)

	req := ParseRequest(raw)
	assert.Equal(t, ChannelID(0x11223344), req.CID)
	assert.Equal(t, RequestPing, req.Kind)
}

func TestParseRequest_Init(t *testing.T) {
	var raw RawReport
	putBE32(raw[0:4], uint32(BroadcastChannelID))
	raw[4] = byte(CmdInit)
	copy(raw[7:15], []byte("NONCE123"))

	req := ParseRequest(raw)
	assert.Equal(t, RequestInit, req.Kind)
	assert.Equal(t, [8]byte{'N', 'O', 'N', 'C', 'E', '1', '2', '3'}, req.Nonce)
}

func TestParseRequest_MessageInitialAndContinuation(t *testing.T) {
	var raw RawReport
	putBE32(raw[0:4], 7)
	raw[4] = byte(CmdMsg)
	putBE16(raw[5:7], 100)
	copy(raw[7:], []byte("payload"))

	req := ParseRequest(raw)
	require.Equal(t, RequestMessageInitial, req.Kind)
	assert.Equal(t, uint16(100), req.PayloadTotal)
	assert.Equal(t, MessageTypeU2F, req.MessageType)
	assert.Equal(t, []byte("payload"), req.InitialData[:len("payload")])

	var cont RawReport
	putBE32(cont[0:4], 7)
	cont[4] = 0x00
	copy(cont[5:], []byte("more"))
	contReq := ParseRequest(cont)
	assert.Equal(t, RequestMessageContinuation, contReq.Kind)
	assert.Equal(t, uint8(0), contReq.Sequence)
}

func TestParseRequest_UnknownCommand(t *testing.T) {
	var raw RawReport
	raw[4] = 0xFE // initialization frame bit set, not a known command
	req := ParseRequest(raw)
	assert.Equal(t, RequestUnknown, req.Kind)
	assert.Equal(t, byte(0xFE), req.RawCommand)
}

func TestResponseEncode_Init(t *testing.T) {
	resp := Response{
		CID:  BroadcastChannelID,
		Kind: ResponseInit,
		Init: InitResponsePayload{
			Nonce:              [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
			NewChannelID:       0x42,
			ProtocolVersion:    2,
			DeviceVersionMajor: 1,
			DeviceVersionMinor: 2,
			DeviceVersionBuild: 3,
			Capabilities:       0,
		},
	}
	var out RawReport
	resp.Encode(&out)

	assert.Equal(t, byte(CmdInit), out[4])
	assert.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, [8]byte(out[7:15]))
	assert.Equal(t, uint32(0x42), beUint32(out[15:19]))
	// byte 19 (data[12], reserved) must be left zero.
	assert.Equal(t, byte(0), out[19])
	assert.Equal(t, byte(2), out[20])
}

func TestResponseEncode_ErrorFrame(t *testing.T) {
	resp := Response{CID: 9, Kind: ResponseError, ErrorCode: CTAPHIDErrChannelBusy}
	var out RawReport
	resp.Encode(&out)

	assert.Equal(t, byte(CmdError), out[4])
	assert.Equal(t, byte(CTAPHIDErrChannelBusy), out[7])
}

func TestResponseEncode_MessageInitialThenContinuation(t *testing.T) {
	payload := make([]byte, 70)
	for i := range payload {
		payload[i] = byte(i)
	}

	resp := Response{
		CID:               3,
		Kind:              ResponseMessage,
		ContinuationState: initialContinuationState(),
		MessageType:       MessageTypeU2F,
		TotalLength:       uint16(len(payload)),
		Data:              payload[:maxInitPayload],
	}
	var out RawReport
	resp.Encode(&out)
	assert.Equal(t, byte(CmdMsg), out[4])
	assert.Equal(t, uint16(70), beUint16(out[5:7]))
	assert.Equal(t, payload[:maxInitPayload], out[7:7+maxInitPayload])

	cont, _ := initialContinuationState().next()
	resp2 := Response{
		CID:               3,
		Kind:              ResponseMessage,
		ContinuationState: cont,
		MessageType:       MessageTypeU2F,
		Data:              payload[maxInitPayload:],
	}
	var out2 RawReport
	resp2.Encode(&out2)
	assert.Equal(t, byte(0), out2[4]) // sequence 0, not an init frame
	assert.Equal(t, payload[maxInitPayload:], out2[5:5+len(payload)-maxInitPayload])
}
