package minisftp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Format symbols understood by Pack and Unpack.
const (
	// SymByte is a single byte. Pack accepts byte or bool, Unpack fills *byte or *bool.
	SymByte = 'b'
	// SymUint32 is a 32-bit unsigned integer in network byte order.
	SymUint32 = 'd'
	// SymUint64 is a 64-bit unsigned integer in network byte order.
	SymUint64 = 'q'
	// SymString is a uint32 length followed by that many bytes.
	// Used for text fields and opaque handles alike.
	SymString = 's'
	// SymRaw appends bytes with no length prefix of its own. The length
	// is expected to have been written as a separate SymUint32 field.
	// On Unpack it consumes every remaining byte.
	SymRaw = 'P'
)

var (
	// ErrShortBuffer is returned when the remaining bytes cannot hold the next field.
	ErrShortBuffer = errors.New("minisftp: insufficient data in buffer")
	// ErrFormat is returned for unknown format symbols and value type mismatches.
	ErrFormat = errors.New("minisftp: invalid pack format")
)

// Pack encodes values according to format and returns the encoded bytes.
func Pack(format string, values ...any) ([]byte, error) {
	return AppendPack(nil, format, values...)
}

// AppendPack is like Pack but appends to dst.
func AppendPack(dst []byte, format string, values ...any) ([]byte, error) {
	if len(format) != len(values) {
		return nil, fmt.Errorf("%w: %d symbols for %d values", ErrFormat, len(format), len(values))
	}

	for i := 0; i < len(format); i++ {
		v := values[i]
		switch format[i] {
		case SymByte:
			switch b := v.(type) {
			case byte:
				dst = append(dst, b)
			case bool:
				if b {
					dst = append(dst, 1)
				} else {
					dst = append(dst, 0)
				}
			default:
				return nil, typeMismatch(format[i], i, v)
			}

		case SymUint32:
			n, ok := v.(uint32)
			if !ok {
				return nil, typeMismatch(format[i], i, v)
			}
			dst = binary.BigEndian.AppendUint32(dst, n)

		case SymUint64:
			n, ok := v.(uint64)
			if !ok {
				return nil, typeMismatch(format[i], i, v)
			}
			dst = binary.BigEndian.AppendUint64(dst, n)

		case SymString:
			var s []byte
			switch t := v.(type) {
			case string:
				s = []byte(t)
			case []byte:
				s = t
			default:
				return nil, typeMismatch(format[i], i, v)
			}
			if uint64(len(s)) > math.MaxUint32 {
				return nil, fmt.Errorf("%w: string of %d bytes at position %d", ErrFormat, len(s), i)
			}
			dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
			dst = append(dst, s...)

		case SymRaw:
			raw, ok := v.([]byte)
			if !ok {
				return nil, typeMismatch(format[i], i, v)
			}
			dst = append(dst, raw...)

		default:
			return nil, fmt.Errorf("%w: unknown symbol %q at position %d", ErrFormat, format[i], i)
		}
	}

	return dst, nil
}

// Unpack decodes data according to format into the pointers in dst and
// returns the number of bytes consumed. Nothing is written to dst unless
// every field decodes.
func Unpack(data []byte, format string, dst ...any) (int, error) {
	if len(format) != len(dst) {
		return 0, fmt.Errorf("%w: %d symbols for %d destinations", ErrFormat, len(format), len(dst))
	}

	decoded := make([]any, len(format))
	off := 0

	for i := 0; i < len(format); i++ {
		rest := data[off:]
		switch format[i] {
		case SymByte:
			if len(rest) < 1 {
				return 0, shortField(format[i], i)
			}
			decoded[i] = rest[0]
			off++

		case SymUint32:
			if len(rest) < 4 {
				return 0, shortField(format[i], i)
			}
			decoded[i] = binary.BigEndian.Uint32(rest)
			off += 4

		case SymUint64:
			if len(rest) < 8 {
				return 0, shortField(format[i], i)
			}
			decoded[i] = binary.BigEndian.Uint64(rest)
			off += 8

		case SymString:
			if len(rest) < 4 {
				return 0, shortField(format[i], i)
			}
			n := binary.BigEndian.Uint32(rest)
			if uint64(len(rest)-4) < uint64(n) {
				return 0, shortField(format[i], i)
			}
			decoded[i] = rest[4 : 4+int(n)]
			off += 4 + int(n)

		case SymRaw:
			decoded[i] = rest
			off += len(rest)

		default:
			return 0, fmt.Errorf("%w: unknown symbol %q at position %d", ErrFormat, format[i], i)
		}
	}

	// Type-check every destination before assigning any of them.
	for i, d := range dst {
		if !assignable(format[i], d) {
			return 0, typeMismatch(format[i], i, d)
		}
	}

	for i, d := range dst {
		switch p := d.(type) {
		case *byte:
			*p = decoded[i].(byte)
		case *bool:
			*p = decoded[i].(byte) != 0
		case *uint32:
			*p = decoded[i].(uint32)
		case *uint64:
			*p = decoded[i].(uint64)
		case *string:
			*p = string(decoded[i].([]byte))
		case *[]byte:
			b := decoded[i].([]byte)
			*p = append([]byte(nil), b...)
		}
	}

	return off, nil
}

func assignable(sym byte, d any) bool {
	switch sym {
	case SymByte:
		switch d.(type) {
		case *byte, *bool:
			return true
		}
	case SymUint32:
		_, ok := d.(*uint32)
		return ok
	case SymUint64:
		_, ok := d.(*uint64)
		return ok
	case SymString:
		switch d.(type) {
		case *string, *[]byte:
			return true
		}
	case SymRaw:
		_, ok := d.(*[]byte)
		return ok
	}
	return false
}

func typeMismatch(sym byte, pos int, v any) error {
	return fmt.Errorf("%w: symbol %q at position %d cannot use %T", ErrFormat, sym, pos, v)
}

func shortField(sym byte, pos int) error {
	return fmt.Errorf("%w: symbol %q at position %d", ErrShortBuffer, sym, pos)
}
