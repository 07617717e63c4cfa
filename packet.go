package minisftp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Message is a generic SSH transport message: an opcode followed by a
// message-specific payload. Length delimiting is left to the transport.
type Message struct {
	Type    uint8
	Payload []byte
}

// MarshalBinary returns the opcode byte followed by the payload.
func (m Message) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 1+len(m.Payload))
	b = append(b, m.Type)
	return append(b, m.Payload...), nil
}

// ParseMessage splits a transport message into opcode and payload.
func ParseMessage(b []byte) (Message, error) {
	if len(b) < 1 {
		return Message{}, fmt.Errorf("%w: empty message", ErrShortBuffer)
	}
	return Message{Type: b[0], Payload: b[1:]}, nil
}

const packetHeaderLen = 5

// packet is one decoded SFTP frame. It is consumed by a single handler and
// never retained.
type packet struct {
	typ     uint8
	payload []byte
}

// writePacket frames payload as an SFTP packet of type typ and writes it
// with a single call.
func writePacket(w io.Writer, typ uint8, payload []byte) error {
	frame := make([]byte, packetHeaderLen, packetHeaderLen+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)+1))
	frame[4] = typ
	frame = append(frame, payload...)

	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(frame), io.ErrShortWrite)
	}
	return nil
}

// readPacket reads one SFTP frame. Declared lengths above maxLen are
// rejected before any payload buffer is allocated.
func readPacket(r io.Reader, maxLen uint32) (packet, error) {
	var hdr [packetHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return packet{}, fmt.Errorf("%w: short header", ErrTruncatedPacket)
		}
		return packet{}, err
	}

	length := binary.BigEndian.Uint32(hdr[:4])
	if length == 0 {
		return packet{}, ErrInvalidPacketLength
	}
	if length > maxLen {
		return packet{}, fmt.Errorf("%w: declared %d bytes, limit %d", ErrPacketTooLarge, length, maxLen)
	}

	payload := make([]byte, length-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return packet{}, fmt.Errorf("%w: want %d payload bytes", ErrTruncatedPacket, length-1)
		}
		return packet{}, err
	}

	return packet{typ: hdr[4], payload: payload}, nil
}
