package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode identifies which command a frame carries.
type Opcode uint8

const (
	OpGetArgs     Opcode = 0x01
	OpReadStdin   Opcode = 0x02
	OpWriteStdout Opcode = 0x03
	OpWriteStderr Opcode = 0x04
	OpGetCwd      Opcode = 0x05
	OpGetEnv      Opcode = 0x06
	OpExit        Opcode = 0x07
	// 0x08 is reserved.
	OpCloseStdin  Opcode = 0x09
	OpCloseStdout Opcode = 0x0A
	OpCloseStderr Opcode = 0x0B
)

const (
	// HandshakeTag is the literal protocol identifier that opens every
	// handshake, trailing space included.
	HandshakeTag = "ProcessProxy 0001 "

	// TokenFieldLen is the fixed size of the handshake's token field.
	TokenFieldLen = 128

	// HandshakeLen is the total handshake message size.
	HandshakeLen = len(HandshakeTag) + TokenFieldLen
)

const (
	StatusOK    int32 = 0
	StatusError int32 = -1
)

// hostOrder is the byte order used for every integer on the wire. Both ends
// run on the same machine, so the native order is always correct.
var hostOrder = binary.NativeEndian

// HandshakeMessage builds the 146-byte handshake for the given token. The
// token is truncated to TokenFieldLen bytes and zero-padded if shorter.
func HandshakeMessage(token string) []byte {
	msg := make([]byte, HandshakeLen)
	copy(msg, HandshakeTag)
	copy(msg[len(HandshakeTag):], token)
	return msg
}

// ParseHandshake validates the tag of a received handshake and returns the
// raw 128-byte token field.
func ParseHandshake(msg []byte) ([]byte, error) {
	if len(msg) != HandshakeLen {
		return nil, fmt.Errorf("handshake is %d bytes, want %d", len(msg), HandshakeLen)
	}
	if !bytes.Equal(msg[:len(HandshakeTag)], []byte(HandshakeTag)) {
		return nil, fmt.Errorf("handshake tag %q is not %q", msg[:len(HandshakeTag)], HandshakeTag)
	}
	return msg[len(HandshakeTag):], nil
}

// PadToken expands a token string to the fixed-width field form it takes on
// the wire, for comparison against a ParseHandshake result.
func PadToken(token string) []byte {
	field := make([]byte, TokenFieldLen)
	copy(field, token)
	return field
}

// WriteFull writes all of b or fails. A short write without an error is
// reported as io.ErrShortWrite so callers can uniformly treat any non-nil
// error as fatal to the connection.
func WriteFull(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	hostOrder.PutUint32(buf[:], v)
	return WriteFull(w, buf[:])
}

func WriteInt32(w io.Writer, v int32) error {
	return WriteUint32(w, uint32(v))
}

func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return hostOrder.Uint32(buf[:]), nil
}

func ReadInt32(r io.Reader) (int32, error) {
	v, err := ReadUint32(r)
	return int32(v), err
}

// WriteBytes writes a length-prefixed byte string.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteUint32(w, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return WriteFull(w, b)
}

// ReadBytes reads a length-prefixed byte string.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteEnvelopeOK writes a success response envelope.
func WriteEnvelopeOK(w io.Writer) error {
	return WriteInt32(w, StatusOK)
}

// WriteEnvelopeError writes a failure response envelope carrying msg.
func WriteEnvelopeError(w io.Writer, msg string) error {
	if err := WriteInt32(w, StatusError); err != nil {
		return err
	}
	return WriteBytes(w, []byte(msg))
}

// ReadEnvelope consumes a response envelope. It returns nil on a success
// status, a *RemoteError carrying the message on a failure status, and the
// underlying read error if the envelope itself cannot be read.
func ReadEnvelope(r io.Reader) error {
	status, err := ReadInt32(r)
	if err != nil {
		return fmt.Errorf("reading response status: %w", err)
	}
	switch status {
	case StatusOK:
		return nil
	case StatusError:
		msg, err := ReadBytes(r)
		if err != nil {
			return fmt.Errorf("reading error message: %w", err)
		}
		return &RemoteError{Message: string(msg)}
	default:
		return fmt.Errorf("unknown response status %d", status)
	}
}

// RemoteError is an operation-level failure reported by the peer through the
// response envelope. The connection remains usable after one of these.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}
