package minisftp

import (
	"fmt"
	"io"
	"os"
)

// File is an open remote file. Reads and writes advance a client-side
// offset; the server keeps no position of its own.
type File struct {
	s      *Session
	path   string
	handle string
	offset uint64
	eof    bool
	closed bool
}

// OpenFlags converts os.OpenFile flags to SFTP pflags.
func OpenFlags(flag int) uint32 {
	var out uint32
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		out |= FlagRead
	case os.O_WRONLY:
		out |= FlagWrite
	case os.O_RDWR:
		out |= FlagRead | FlagWrite
	}
	if flag&os.O_APPEND == os.O_APPEND {
		out |= FlagAppend
	}
	if flag&os.O_CREATE == os.O_CREATE {
		out |= FlagCreat
	}
	if flag&os.O_TRUNC == os.O_TRUNC {
		out |= FlagTrunc
	}
	if flag&os.O_EXCL == os.O_EXCL {
		out |= FlagExcl
	}
	return out
}

// Open opens path for reading.
func (s *Session) Open(path string) (*File, error) {
	return s.OpenFile(path, os.O_RDONLY, 0)
}

// Create creates or truncates path and opens it for writing with mode 0644.
func (s *Session) Create(path string) (*File, error) {
	return s.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// OpenFile opens path with the given os flags. perm is always sent as the
// permission attribute; servers apply it only when the file is created.
//
// A server status in reply, even OK, is returned as a *StatusError.
func (s *Session) OpenFile(path string, flag int, perm os.FileMode) (*File, error) {
	const op = "open"

	pflags := OpenFlags(flag)
	id, p, err := s.request(op, fxpOpen, func(id uint32) ([]byte, error) {
		b, err := Pack("dsd", id, path, pflags)
		if err != nil {
			return nil, err
		}
		return permissionAttrs(perm).appendTo(b)
	})
	if err != nil {
		return nil, err
	}

	switch p.typ {
	case fxpStatus:
		st, err := parseStatusFor(p, id)
		if err != nil {
			return nil, s.protocolFailure(op, err)
		}
		s.logger.Debugf("open %s: %s", path, statusName(st.Code))
		return nil, st

	case fxpHandle:
		handle, err := parseHandle(p, id)
		if err != nil {
			return nil, s.protocolFailure(op, err)
		}
		s.logger.Debugf("opened %s (pflags %#x)", path, pflags)
		return &File{s: s, path: path, handle: handle}, nil
	}

	return nil, s.protocolFailure(op, &UnexpectedPacketError{Want: []uint8{fxpStatus, fxpHandle}, Got: p.typ})
}

// Name returns the path the file was opened with.
func (f *File) Name() string { return f.path }

// Handle returns the opaque server handle.
func (f *File) Handle() string { return f.handle }

// Offset returns the position of the next read or write.
func (f *File) Offset() uint64 { return f.offset }

// EOF reports whether a read has reached the end of the file.
func (f *File) EOF() bool { return f.eof }

// Read reads up to len(b) bytes at the current offset. A single request is
// sent, asking for at most the session's max read chunk. A reply shorter
// than requested is taken as the end of the file: the bytes are returned
// and every later call returns io.EOF without contacting the server.
func (f *File) Read(b []byte) (int, error) {
	const op = "read"

	if f.closed {
		return 0, os.ErrClosed
	}
	if f.eof {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}

	want := len(b)
	if want > f.s.maxRead {
		want = f.s.maxRead
	}

	id, p, err := f.s.request(op, fxpRead, func(id uint32) ([]byte, error) {
		return Pack("dsqd", id, f.handle, f.offset, uint32(want))
	})
	if err != nil {
		return 0, err
	}

	switch p.typ {
	case fxpStatus:
		st, err := parseStatusFor(p, id)
		if err != nil {
			return 0, f.s.protocolFailure(op, err)
		}
		switch st.Code {
		case StatusOK:
			return 0, nil
		case StatusEOF:
			f.eof = true
			return 0, io.EOF
		}
		f.s.logger.Debugf("read %s at %d: %v", f.path, f.offset, st)
		return 0, st

	case fxpData:
		data, err := parseData(p, id)
		if err != nil {
			return 0, f.s.protocolFailure(op, err)
		}
		if len(data) > want {
			return 0, f.s.protocolFailure(op, fmt.Errorf("%w: asked for %d, got %d", ErrDataOverflow, want, len(data)))
		}
		n := copy(b, data)
		f.offset += uint64(n)
		if n < want {
			f.eof = true
		}
		return n, nil
	}

	return 0, f.s.protocolFailure(op, &UnexpectedPacketError{Want: []uint8{fxpStatus, fxpData}, Got: p.typ})
}

// Write writes b at the current offset in chunks of at most the session's
// max write chunk, waiting for each acknowledgement before sending the
// next. It returns the number of bytes the server acknowledged.
func (f *File) Write(b []byte) (int, error) {
	const op = "write"

	if f.closed {
		return 0, os.ErrClosed
	}

	written := 0
	for written < len(b) {
		chunk := b[written:]
		if len(chunk) > f.s.maxWrite {
			chunk = chunk[:f.s.maxWrite]
		}

		id, p, err := f.s.request(op, fxpWrite, func(id uint32) ([]byte, error) {
			return Pack("dsqdP", id, f.handle, f.offset, uint32(len(chunk)), chunk)
		})
		if err != nil {
			return written, err
		}

		st, err := parseStatusFor(p, id)
		if err != nil {
			return written, f.s.protocolFailure(op, err)
		}
		if st.Code != StatusOK {
			f.s.logger.Debugf("write %s at %d: %v", f.path, f.offset, st)
			return written, st
		}

		f.offset += uint64(len(chunk))
		written += len(chunk)
	}
	return written, nil
}

// Close releases the server handle. The File is unusable afterwards
// whatever the outcome; a second Close returns os.ErrClosed.
func (f *File) Close() error {
	const op = "close"

	if f.closed {
		return os.ErrClosed
	}
	f.closed = true

	id, p, err := f.s.request(op, fxpClose, func(id uint32) ([]byte, error) {
		return Pack("ds", id, f.handle)
	})
	if err != nil {
		return err
	}

	st, err := parseStatusFor(p, id)
	if err != nil {
		return f.s.protocolFailure(op, err)
	}
	if st.Code != StatusOK {
		f.s.logger.Warnf("close %s: %v", f.path, st)
		return st
	}
	f.s.logger.Debugf("closed %s", f.path)
	return nil
}

// ReadFrom copies r into the file until EOF.
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, f.s.maxWrite)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			w, err := f.Write(buf[:n])
			total += int64(w)
			if err != nil {
				return total, err
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

var (
	_ io.ReadWriteCloser = (*File)(nil)
	_ io.ReaderFrom      = (*File)(nil)
)
