package minisftp

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedPacket is returned when the stream ends inside a frame.
	ErrTruncatedPacket = errors.New("minisftp: stream ended inside packet")
	// ErrPacketTooLarge is returned when a declared frame length exceeds the configured maximum.
	ErrPacketTooLarge = errors.New("minisftp: packet too large")
	// ErrInvalidPacketLength is returned for a declared frame length of zero.
	ErrInvalidPacketLength = errors.New("minisftp: invalid packet length")
	// ErrDataOverflow is returned when the server returns more data than was requested.
	ErrDataOverflow = errors.New("minisftp: server returned more data than requested")
	// ErrIDExhausted is returned when the session has used every request id.
	ErrIDExhausted = errors.New("minisftp: request id space exhausted")
	// ErrUnsupported is returned by operations this client does not implement.
	ErrUnsupported = errors.ErrUnsupported

	// ErrAuthDenied matches every *AuthFailureError.
	ErrAuthDenied = errors.New("ssh: authentication denied")
	// ErrPasswordChangeRequired matches every *PasswordChangeError.
	ErrPasswordChangeRequired = errors.New("ssh: password change required")
)

// TransportError reports a failure of the underlying channel or transport.
// The session it happened on should be discarded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed, unexpected or mismatched message.
// The session it happened on should be discarded.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnexpectedPacketError is returned when a response carries an opcode the
// request cannot legitimately produce.
type UnexpectedPacketError struct {
	Want []uint8
	Got  uint8
}

func (e *UnexpectedPacketError) Error() string {
	return fmt.Sprintf("unexpected packet: got %s, want %s", packetName(e.Got), packetNames(e.Want))
}

// UnexpectedIDError is returned when a response id does not match its request.
type UnexpectedIDError struct {
	Want uint32
	Got  uint32
}

func (e *UnexpectedIDError) Error() string {
	return fmt.Sprintf("id mismatch (server: %d client: %d)", e.Got, e.Want)
}

// VersionMismatchError is returned when the server answers INIT with a
// version other than ProtocolVersion.
type VersionMismatchError struct {
	Client uint32
	Server uint32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch (server: %d client: %d)", e.Server, e.Client)
}

// StatusError is a status reported by the server. It is recoverable: the
// session stays usable.
type StatusError struct {
	ID   uint32
	Code uint32
	Msg  string
	Lang string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("sftp: %s (code %d)", statusName(e.Code), e.Code)
	}
	return fmt.Sprintf("sftp: %s (code %d): %s", statusName(e.Code), e.Code, e.Msg)
}

// AuthFailureError is returned when the server rejects a password. The
// caller may submit another one.
type AuthFailureError struct {
	// Methods lists the authentication methods that can continue.
	Methods []string
	// PartialSuccess is true when the password was accepted but more
	// authentication is required.
	PartialSuccess bool
}

func (e *AuthFailureError) Error() string {
	if len(e.Methods) == 0 {
		return "ssh: permission denied"
	}
	return fmt.Sprintf("ssh: permission denied (can continue: %v)", e.Methods)
}

func (e *AuthFailureError) Is(target error) bool { return target == ErrAuthDenied }

// PasswordChangeError is returned when the server demands a new password,
// which this client does not support.
type PasswordChangeError struct {
	Prompt string
	Lang   string
}

func (e *PasswordChangeError) Error() string {
	if e.Prompt == "" {
		return "ssh: password change required"
	}
	return "ssh: password change required: " + e.Prompt
}

func (e *PasswordChangeError) Is(target error) bool { return target == ErrPasswordChangeRequired }

// IsFatal reports whether err means the session can no longer be used.
func IsFatal(err error) bool {
	var te *TransportError
	var pe *ProtocolError
	return errors.As(err, &te) || errors.As(err, &pe)
}

// IsStatus reports whether err carries a server status with the given code.
func IsStatus(err error, code uint32) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
