package minisftp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// MessageTransport carries whole SSH transport-layer messages. Framing,
// encryption and integrity are its responsibility.
type MessageTransport interface {
	SendMessage(msg []byte) error
	ReceiveMessage() ([]byte, error)
}

// Channel is a raw, ordered byte channel bound to the SFTP subsystem.
// A single Read may return fewer bytes than asked for.
type Channel interface {
	io.Reader
	io.Writer
	// CloseWrite signals end of stream to the peer.
	CloseWrite() error
	Close() error
}

// Ensure ssh.Channel satisfies Channel.
var _ Channel = (ssh.Channel)(nil)

// OpenSubsystem opens a session channel on conn and binds it to the named
// subsystem, usually "sftp".
func OpenSubsystem(conn ssh.Conn, name string) (Channel, error) {
	ch, reqs, err := conn.OpenChannel("session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session channel: %w", err)
	}
	go ssh.DiscardRequests(reqs)

	payload := ssh.Marshal(&struct{ Name string }{name})
	ok, err := ch.SendRequest("subsystem", true, payload)
	if err == nil && !ok {
		err = fmt.Errorf("subsystem %q request rejected", name)
	}
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to request subsystem: %w", err)
	}
	return ch, nil
}

const (
	plainBlockSize    = 8
	plainMinPadding   = 4
	plainMaxPacketLen = 256 * 1024
)

// plainTransport frames messages as RFC 4253 binary packets with the
// "none" cipher and MAC.
type plainTransport struct {
	rw        io.ReadWriter
	maxPacket uint32
}

// NewPlainTransport returns a MessageTransport speaking unencrypted SSH
// binary packets over rw. It is meant for test rigs and for pipes that are
// already secured by other means.
func NewPlainTransport(rw io.ReadWriter) MessageTransport {
	return &plainTransport{rw: rw, maxPacket: plainMaxPacketLen}
}

func (t *plainTransport) SendMessage(msg []byte) error {
	padLen := plainBlockSize - (5+len(msg))%plainBlockSize
	if padLen < plainMinPadding {
		padLen += plainBlockSize
	}
	pktLen := 1 + len(msg) + padLen
	if uint64(pktLen) > uint64(t.maxPacket) {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, pktLen)
	}

	buf := make([]byte, 4+pktLen)
	binary.BigEndian.PutUint32(buf, uint32(pktLen))
	buf[4] = byte(padLen)
	copy(buf[5:], msg)
	if _, err := rand.Read(buf[5+len(msg):]); err != nil {
		return fmt.Errorf("failed to generate padding: %w", err)
	}

	n, err := t.rw.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

func (t *plainTransport) ReceiveMessage() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(t.rw, hdr[:]); err != nil {
		return nil, err
	}

	pktLen := binary.BigEndian.Uint32(hdr[:])
	if pktLen < 1+plainMinPadding {
		return nil, ErrInvalidPacketLength
	}
	if pktLen > t.maxPacket {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrPacketTooLarge, pktLen)
	}

	body := make([]byte, pktLen)
	if _, err := io.ReadFull(t.rw, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedPacket
		}
		return nil, err
	}

	padLen := int(body[0])
	if padLen < plainMinPadding || 1+padLen > len(body) {
		return nil, fmt.Errorf("%w: padding %d in %d byte packet", ErrInvalidPacketLength, padLen, pktLen)
	}
	return body[1 : len(body)-padLen], nil
}
