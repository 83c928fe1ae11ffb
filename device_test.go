package notwebusb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHID is a scripted HIDDevice: reads are served from a queue (or
// ErrWouldBlock when empty), writes are recorded unless forceWriteBlock
// causes the next one to return ErrWouldBlock once.
type fakeHID struct {
	reads  []RawReport
	writes []RawReport

	forceWriteBlockOnce bool
	fatalOnRead         error
}

func (f *fakeHID) ReadReport() (RawReport, error) {
	if f.fatalOnRead != nil {
		return RawReport{}, f.fatalOnRead
	}
	if len(f.reads) == 0 {
		return RawReport{}, ErrWouldBlock
	}
	next := f.reads[0]
	f.reads = f.reads[1:]
	return next, nil
}

func (f *fakeHID) WriteReport(report RawReport) error {
	if f.forceWriteBlockOnce {
		f.forceWriteBlockOnce = false
		return ErrWouldBlock
	}
	f.writes = append(f.writes, report)
	return nil
}

func TestDevice_PollEchoesPing(t *testing.T) {
	hid := &fakeHID{reads: []RawReport{pingReport(42)}}
	d := New(hid, AcceptAllOrigins)

	require.NoError(t, d.Poll())
	require.Len(t, hid.writes, 1)
	assert.Empty(t, hid.reads)
}

func TestDevice_PollWithNothingToReadIsANoOp(t *testing.T) {
	hid := &fakeHID{}
	d := New(hid, AcceptAllOrigins)
	require.NoError(t, d.Poll())
	assert.Empty(t, hid.writes)
}

func TestDevice_FatalReadErrorResetsEngine(t *testing.T) {
	hid := &fakeHID{fatalOnRead: errors.New("boom: device unplugged")}
	d := New(hid, AcceptAllOrigins)

	err := d.Poll()
	require.Error(t, err)
	var usbErr *UsbError
	require.ErrorAs(t, err, &usbErr)
	assert.True(t, usbErr.Fatal)
}

func TestDevice_WriteBlockIsRetriedNextPoll(t *testing.T) {
	hid := &fakeHID{reads: []RawReport{pingReport(1)}, forceWriteBlockOnce: true}
	d := New(hid, AcceptAllOrigins)

	require.NoError(t, d.Poll()) // read succeeds, write blocks
	assert.Empty(t, hid.writes)

	require.NoError(t, d.Poll()) // retried write now succeeds
	assert.Len(t, hid.writes, 1)
}

func TestDevice_TunnelRoundTrip(t *testing.T) {
	hid := &fakeHID{}
	d := New(hid, AcceptAllOrigins)

	// INIT to get a channel id.
	require.NoError(t, feedReport(t, d, hid, initReport([8]byte{9})))
	require.Len(t, hid.writes, 1)
	initResp := hid.writes[len(hid.writes)-1]
	cid := ChannelID(beUint32(initResp[15:19]))

	var appParam [32]byte
	keyHandle := append([]byte{byte(headerFinalChunk)}, []byte("request")...)
	apdu := buildAuthenticateAPDU(AuthEnforcePresence, appParam, keyHandle)

	var msgReport RawReport
	putBE32(msgReport[0:4], uint32(cid))
	msgReport[4] = byte(CmdMsg)
	putBE16(msgReport[5:7], uint16(len(apdu)))
	copy(msgReport[7:], apdu)

	require.NoError(t, feedReport(t, d, hid, msgReport))

	// The APDU is longer than one initialization frame carries; send the
	// rest as continuation sequence 0.
	var contReport RawReport
	putBE32(contReport[0:4], uint32(cid))
	contReport[4] = 0
	copy(contReport[5:], apdu[maxInitPayload:])

	require.NoError(t, feedReport(t, d, hid, contReport))

	req, ok := d.CheckPendingRequest()
	require.True(t, ok)
	assert.Equal(t, []byte("request"), req)

	require.NoError(t, d.SendResponse([]byte("reply")))
}

func feedReport(t *testing.T, d *Device, hid *fakeHID, report RawReport) error {
	t.Helper()
	hid.reads = append(hid.reads, report)
	return d.Poll()
}
