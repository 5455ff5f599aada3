package engine

import "fmt"

// HandshakeStatus is the engine's position in the TLS handshake.
type HandshakeStatus uint8

const (
	NotHandshaking HandshakeStatus = iota
	// Finished is reported exactly once, when the handshake completes and
	// every handshake byte has been wrapped.
	Finished
	// NeedTask means the TLS state machine is computing; run DelegatedTask.
	NeedTask
	// NeedWrap means handshake bytes are waiting to be sent to the peer.
	NeedWrap
	// NeedUnwrap means the handshake cannot progress without peer bytes.
	NeedUnwrap
)

func (s HandshakeStatus) String() string {
	switch s {
	case NotHandshaking:
		return "NOT_HANDSHAKING"
	case Finished:
		return "FINISHED"
	case NeedTask:
		return "NEED_TASK"
	case NeedWrap:
		return "NEED_WRAP"
	case NeedUnwrap:
		return "NEED_UNWRAP"
	default:
		return fmt.Sprintf("HandshakeStatus(%d)", uint8(s))
	}
}

// Status is the outcome of one Wrap or Unwrap call.
type Status uint8

const (
	OK Status = iota
	// BufferUnderflow: not enough ciphertext to produce plaintext.
	BufferUnderflow
	// BufferOverflow: the destination cannot hold the produced bytes.
	BufferOverflow
	// Closed: the corresponding direction has been shut down.
	Closed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case BufferUnderflow:
		return "BUFFER_UNDERFLOW"
	case BufferOverflow:
		return "BUFFER_OVERFLOW"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Result reports what a Wrap or Unwrap call did.
type Result struct {
	Status          Status
	HandshakeStatus HandshakeStatus
	Consumed        int
	Produced        int
}
