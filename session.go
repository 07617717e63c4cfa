package minisftp

import (
	"errors"
	"fmt"
	"math"
)

// Session is an SFTP conversation over one subsystem channel.
//
// Requests are strictly sequential: each one is written, then exactly its
// response is read before anything else is sent. A Session must not be
// used from more than one goroutine at a time.
type Session struct {
	ch        Channel
	nextID    uint32
	version   uint32
	maxPacket uint32
	maxWrite  int
	maxRead   int
	logger    Logger
	exts      map[string]string

	// broken holds the first fatal error; once set the session refuses
	// further requests.
	broken error
}

// SessionOption configures a Session.
type SessionOption func(*Session) error

// WithMaxPacketLength bounds the declared length of frames read from the server.
func WithMaxPacketLength(n uint32) SessionOption {
	return func(s *Session) error {
		if n < packetHeaderLen {
			return fmt.Errorf("max packet length must be at least %d", packetHeaderLen)
		}
		s.maxPacket = n
		return nil
	}
}

// WithMaxWriteChunk sets the largest payload sent in a single WRITE request.
func WithMaxWriteChunk(n int) SessionOption {
	return func(s *Session) error {
		if n < 1 {
			return errors.New("max write chunk must be greater or equal to 1")
		}
		s.maxWrite = n
		return nil
	}
}

// WithMaxReadChunk sets the largest length asked for in a single READ request.
func WithMaxReadChunk(n int) SessionOption {
	return func(s *Session) error {
		if n < 1 {
			return errors.New("max read chunk must be greater or equal to 1")
		}
		s.maxRead = n
		return nil
	}
}

// WithLogger sets the session logger.
func WithLogger(l Logger) SessionOption {
	return func(s *Session) error {
		s.logger = l
		return nil
	}
}

// NewSession runs the version handshake on an already opened subsystem
// channel. There is no negotiation: a server answering with anything but
// ProtocolVersion is rejected. The channel is closed if the handshake fails.
func NewSession(ch Channel, opts ...SessionOption) (*Session, error) {
	s := &Session{
		ch:        ch,
		maxPacket: DefaultMaxPacketLength,
		maxWrite:  DefaultMaxWriteChunk,
		maxRead:   DefaultMaxReadChunk,
		exts:      make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			ch.Close()
			return nil, err
		}
	}
	s.logger = loggerOrDefault(s.logger)

	if err := s.init(); err != nil {
		ch.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) init() error {
	const op = "init"

	payload, err := Pack("d", uint32(ProtocolVersion))
	if err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	if err := writePacket(s.ch, fxpInit, payload); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to send init request: %w", err)}
	}

	p, err := readPacket(s.ch, s.maxPacket)
	if err != nil {
		return s.readFailure(op, err)
	}

	version, exts, err := parseVersion(p)
	if err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	if version != ProtocolVersion {
		s.logger.Errorf("sftp server version %d does not match client version %d", version, ProtocolVersion)
		return &ProtocolError{Op: op, Err: &VersionMismatchError{Client: ProtocolVersion, Server: version}}
	}

	s.version = version
	for name, data := range exts {
		s.exts[name] = data
	}
	s.logger.Debugf("sftp session initialised, version %d, %d extensions", version, len(exts))
	return nil
}

// Version returns the protocol version agreed during the handshake.
func (s *Session) Version() uint32 { return s.version }

// Extension returns the data the server advertised for the named extension.
func (s *Session) Extension(name string) (string, bool) {
	data, ok := s.exts[name]
	return data, ok
}

// Err returns the fatal error that broke the session, if any.
func (s *Session) Err() error { return s.broken }

// Close signals end of stream on the channel and closes it.
func (s *Session) Close() error {
	if s.broken == nil {
		s.broken = &TransportError{Op: "close", Err: errSessionClosed}
	}
	eofErr := s.ch.CloseWrite()
	if err := s.ch.Close(); err != nil {
		return err
	}
	if eofErr != nil {
		s.logger.Debugf("failed to signal eof on sftp channel: %v", eofErr)
	}
	return nil
}

var errSessionClosed = errors.New("session closed")

// nextRequestID returns a fresh id, strictly greater than any issued before.
func (s *Session) nextRequestID() (uint32, error) {
	if s.nextID == math.MaxUint32 {
		return 0, ErrIDExhausted
	}
	s.nextID++
	return s.nextID, nil
}

// request allocates an id, builds the payload with build, sends it as a
// frame of type typ and reads exactly one response.
func (s *Session) request(op string, typ uint8, build func(id uint32) ([]byte, error)) (uint32, packet, error) {
	if s.broken != nil {
		return 0, packet{}, s.broken
	}

	id, err := s.nextRequestID()
	if err != nil {
		return 0, packet{}, s.fail(&ProtocolError{Op: op, Err: err})
	}

	payload, err := build(id)
	if err != nil {
		return 0, packet{}, s.fail(&ProtocolError{Op: op, Err: err})
	}

	if err := writePacket(s.ch, typ, payload); err != nil {
		return 0, packet{}, s.fail(&TransportError{Op: op, Err: fmt.Errorf("failed to send %s: %w", packetName(typ), err)})
	}

	p, err := readPacket(s.ch, s.maxPacket)
	if err != nil {
		return 0, packet{}, s.fail(s.readFailure(op, err))
	}
	return id, p, nil
}

// readFailure classifies a readPacket error: malformed frames are protocol
// errors, everything else came from the channel.
func (s *Session) readFailure(op string, err error) error {
	if errors.Is(err, ErrTruncatedPacket) || errors.Is(err, ErrPacketTooLarge) || errors.Is(err, ErrInvalidPacketLength) {
		return &ProtocolError{Op: op, Err: err}
	}
	return &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
}

// fail records a fatal error and returns it.
func (s *Session) fail(err error) error {
	if s.broken == nil {
		s.broken = err
		s.logger.Errorf("sftp session failed: %v", err)
	}
	return err
}

// protocolFailure wraps err as a fatal protocol error for op.
func (s *Session) protocolFailure(op string, err error) error {
	return s.fail(&ProtocolError{Op: op, Err: err})
}

// Stat is not implemented.
func (s *Session) Stat(path string) (*Attributes, error) { return nil, ErrUnsupported }

// Lstat is not implemented.
func (s *Session) Lstat(path string) (*Attributes, error) { return nil, ErrUnsupported }

// ReadDir is not implemented.
func (s *Session) ReadDir(path string) ([]*Attributes, error) { return nil, ErrUnsupported }

// Remove is not implemented.
func (s *Session) Remove(path string) error { return ErrUnsupported }

// Rename is not implemented.
func (s *Session) Rename(oldpath, newpath string) error { return ErrUnsupported }

// Mkdir is not implemented.
func (s *Session) Mkdir(path string) error { return ErrUnsupported }
