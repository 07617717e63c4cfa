package minisftp

import (
	"fmt"
	"os"
)

// POSIX mode bits that os.FileMode keeps outside ModePerm.
const (
	modeSetuid = 0o4000
	modeSetgid = 0o2000
	modeSticky = 0o1000
)

// Attributes is the SFTP v3 file attribute block. Only the fields whose
// bit is set in Flags are meaningful.
//
// No public operation fills this in yet: stat-style requests are not
// implemented. It is decoded and encoded so that OPEN can carry
// permissions and so that later operations have a type to return.
type Attributes struct {
	Flags       uint32
	Size        uint64
	UID         uint32
	GID         uint32
	Permissions uint32
	Atime       uint32
	Mtime       uint32
	Extended    []ExtendedAttr
}

// ExtendedAttr is one vendor-specific attribute pair.
type ExtendedAttr struct {
	Type string
	Data string
}

// permissionAttrs returns an attribute block carrying only the permission bits of perm.
func permissionAttrs(perm os.FileMode) *Attributes {
	p := uint32(perm.Perm())
	if perm&os.ModeSetuid != 0 {
		p |= modeSetuid
	}
	if perm&os.ModeSetgid != 0 {
		p |= modeSetgid
	}
	if perm&os.ModeSticky != 0 {
		p |= modeSticky
	}
	return &Attributes{Flags: attrPermissions, Permissions: p}
}

// appendTo encodes the attribute block after dst.
func (a *Attributes) appendTo(dst []byte) ([]byte, error) {
	dst, err := AppendPack(dst, "d", a.Flags)
	if err != nil {
		return nil, err
	}
	if a.Flags&attrSize != 0 {
		if dst, err = AppendPack(dst, "q", a.Size); err != nil {
			return nil, err
		}
	}
	if a.Flags&attrUIDGID != 0 {
		if dst, err = AppendPack(dst, "dd", a.UID, a.GID); err != nil {
			return nil, err
		}
	}
	if a.Flags&attrPermissions != 0 {
		if dst, err = AppendPack(dst, "d", a.Permissions); err != nil {
			return nil, err
		}
	}
	if a.Flags&attrACModTime != 0 {
		if dst, err = AppendPack(dst, "dd", a.Atime, a.Mtime); err != nil {
			return nil, err
		}
	}
	if a.Flags&attrExtended != 0 {
		if dst, err = AppendPack(dst, "d", uint32(len(a.Extended))); err != nil {
			return nil, err
		}
		for _, ext := range a.Extended {
			if dst, err = AppendPack(dst, "ss", ext.Type, ext.Data); err != nil {
				return nil, err
			}
		}
	}
	return dst, nil
}

// unmarshalAttrs decodes an attribute block from the front of b and
// returns it with the number of bytes consumed.
func unmarshalAttrs(b []byte) (*Attributes, int, error) {
	var a Attributes
	off, err := Unpack(b, "d", &a.Flags)
	if err != nil {
		return nil, 0, err
	}

	step := func(format string, dst ...any) error {
		n, err := Unpack(b[off:], format, dst...)
		off += n
		return err
	}

	if a.Flags&attrSize != 0 {
		if err := step("q", &a.Size); err != nil {
			return nil, 0, err
		}
	}
	if a.Flags&attrUIDGID != 0 {
		if err := step("dd", &a.UID, &a.GID); err != nil {
			return nil, 0, err
		}
	}
	if a.Flags&attrPermissions != 0 {
		if err := step("d", &a.Permissions); err != nil {
			return nil, 0, err
		}
	}
	if a.Flags&attrACModTime != 0 {
		if err := step("dd", &a.Atime, &a.Mtime); err != nil {
			return nil, 0, err
		}
	}
	if a.Flags&attrExtended != 0 {
		var count uint32
		if err := step("d", &count); err != nil {
			return nil, 0, err
		}
		for i := uint32(0); i < count; i++ {
			var ext ExtendedAttr
			if err := step("ss", &ext.Type, &ext.Data); err != nil {
				return nil, 0, err
			}
			a.Extended = append(a.Extended, ext)
		}
	}
	return &a, off, nil
}

func parseAttrs(p packet, id uint32) (*Attributes, error) {
	if err := expectType(p, fxpAttrs); err != nil {
		return nil, err
	}

	var sid uint32
	n, err := Unpack(p.payload, "d", &sid)
	if err != nil {
		return nil, fmt.Errorf("bad attrs packet: %w", err)
	}
	if sid != id {
		return nil, &UnexpectedIDError{Want: id, Got: sid}
	}

	a, _, err := unmarshalAttrs(p.payload[n:])
	if err != nil {
		return nil, fmt.Errorf("bad attrs packet: %w", err)
	}
	return a, nil
}
