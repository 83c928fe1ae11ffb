package notwebusb

// continuationStateKind tags ContinuationState.
type continuationStateKind int

const (
	continuationInitial continuationStateKind = iota
	continuationFollowup
)

// ContinuationState tracks where the response emission loop is up to for
// the current transaction's outbound message: either it hasn't sent the
// initial packet yet (Initial), or it has and is now numbering
// continuation packets (Continuation{sequence}).
type ContinuationState struct {
	kind     continuationStateKind
	sequence uint8
}

// initialContinuationState is the starting state for every new message.
func initialContinuationState() ContinuationState {
	return ContinuationState{kind: continuationInitial}
}

func (s ContinuationState) isInitial() bool {
	return s.kind == continuationInitial
}

// next advances the continuation state after one packet has been staged:
// Initial -> Continuation{0}, Continuation{n} -> Continuation{n+1}.
// Per DESIGN.md Open Question 2, sequence can only legally reach 127 before
// a message of MaxCTAPHIDMessage completes, so wrap is reported as an error
// rather than silently taken mod 128.
func (s ContinuationState) next() (ContinuationState, error) {
	switch s.kind {
	case continuationInitial:
		return ContinuationState{kind: continuationFollowup, sequence: 0}, nil
	default:
		if s.sequence >= 127 {
			return s, ErrSequenceOverflow
		}
		return ContinuationState{kind: continuationFollowup, sequence: s.sequence + 1}, nil
	}
}

// Transaction is the single in-flight CTAPHID message, request and/or
// response. At most one exists at a time (base spec §3).
type Transaction struct {
	CID         ChannelID
	MessageType MessageType

	// request reassembly
	requestSequence            uint8 // next expected continuation sequence, 0-127
	requestBuffer              []byte
	requestPayloadSize         int
	requestPayloadBytesWritten int

	// response emission gating
	responseContinuationState  ContinuationState
	responseReadyToSend        bool
	responseFinalPacketIsReady bool
}

// newTransaction starts a transaction for a freshly-received initial
// message frame of the given total payload size.
func newTransaction(cid ChannelID, mt MessageType, payloadSize uint16) *Transaction {
	return &Transaction{
		CID:                        cid,
		MessageType:                mt,
		requestBuffer:              make([]byte, 0, payloadSize),
		requestPayloadSize:         int(payloadSize),
		responseContinuationState: initialContinuationState(),
	}
}

// appendInitial stores the first chunk (up to 57 bytes) of the request
// payload, truncated to the declared total size. Returns true if the
// message is now fully assembled.
func (t *Transaction) appendInitial(data []byte) (complete bool) {
	return t.append(data)
}

// appendContinuation stores a subsequent chunk (up to 59 bytes) of the
// request payload. Returns true if the message is now fully assembled.
func (t *Transaction) appendContinuation(data []byte) (complete bool) {
	t.requestSequence++
	return t.append(data)
}

func (t *Transaction) append(data []byte) (complete bool) {
	remaining := t.requestPayloadSize - t.requestPayloadBytesWritten
	if remaining < len(data) {
		data = data[:remaining]
	}
	t.requestBuffer = append(t.requestBuffer, data...)
	t.requestPayloadBytesWritten += len(data)
	return t.requestPayloadBytesWritten >= t.requestPayloadSize
}

// requestMessage returns the fully assembled request payload. Only valid
// once append* has returned complete = true.
func (t *Transaction) requestMessage() []byte {
	return t.requestBuffer
}
