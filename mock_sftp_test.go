package minisftp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
)

// responder answers one request frame with zero or more raw response frames.
type responder func(req packet) [][]byte

// scriptedChannel plays the server side of an SFTP exchange. Every frame
// the client writes is recorded and handed to respond; whatever it returns
// is queued for the client to read. Reading an empty queue yields io.EOF.
type scriptedChannel struct {
	respond  responder
	out      bytes.Buffer
	requests []packet

	writeErr    error
	closed      bool
	closedWrite bool
}

func (c *scriptedChannel) Write(b []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	p, err := readPacket(bytes.NewReader(b), DefaultMaxPacketLength)
	if err != nil {
		return 0, err
	}
	c.requests = append(c.requests, p)
	if c.respond != nil {
		for _, f := range c.respond(p) {
			c.out.Write(f)
		}
	}
	return len(b), nil
}

func (c *scriptedChannel) Read(b []byte) (int, error) {
	return c.out.Read(b)
}

func (c *scriptedChannel) CloseWrite() error {
	c.closedWrite = true
	return nil
}

func (c *scriptedChannel) Close() error {
	c.closed = true
	return nil
}

// requestsOfType returns the recorded requests with opcode typ.
func (c *scriptedChannel) requestsOfType(typ uint8) []packet {
	var out []packet
	for _, p := range c.requests {
		if p.typ == typ {
			out = append(out, p)
		}
	}
	return out
}

// newScriptedSession completes the handshake against a well-behaved
// version 3 server and then hands every later request to respond.
func newScriptedSession(t *testing.T, respond responder, opts ...SessionOption) (*Session, *scriptedChannel) {
	t.Helper()

	ch := &scriptedChannel{}
	ch.respond = func(req packet) [][]byte {
		if req.typ == fxpInit {
			return [][]byte{frame(t, fxpVersion, "d", uint32(ProtocolVersion))}
		}
		if respond == nil {
			return nil
		}
		return respond(req)
	}

	opts = append([]SessionOption{WithLogger(NopLogger{})}, opts...)
	s, err := NewSession(ch, opts...)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s, ch
}

// frame packs values and wraps them in an SFTP frame of type typ.
func frame(t testing.TB, typ uint8, format string, values ...any) []byte {
	t.Helper()

	payload, err := Pack(format, values...)
	if err != nil {
		t.Fatalf("Pack(%q) error = %v", format, err)
	}
	var buf bytes.Buffer
	if err := writePacket(&buf, typ, payload); err != nil {
		t.Fatalf("writePacket() error = %v", err)
	}
	return buf.Bytes()
}

func statusFrame(t testing.TB, id, code uint32, msg string) []byte {
	return frame(t, fxpStatus, "ddss", id, code, msg, "en")
}

func handleFrame(t testing.TB, id uint32, handle string) []byte {
	return frame(t, fxpHandle, "ds", id, handle)
}

func dataFrame(t testing.TB, id uint32, data []byte) []byte {
	return frame(t, fxpData, "ds", id, data)
}

// requestID returns the id leading every request payload after INIT.
func requestID(p packet) uint32 {
	return binary.BigEndian.Uint32(p.payload)
}

// MockClient is an in-memory ClientInterface.
type MockClient struct {
	mu          sync.RWMutex
	files       map[string][]byte
	modes       map[string]os.FileMode
	shouldError map[string]error
	uploads     int
	healthy     bool
	closed      bool
}

var _ ClientInterface = (*MockClient)(nil)

// NewMockClient creates a new mock client for testing.
func NewMockClient() *MockClient {
	return &MockClient{
		files:       make(map[string][]byte),
		modes:       make(map[string]os.FileMode),
		shouldError: make(map[string]error),
		healthy:     true,
	}
}

func (m *MockClient) SetFile(path string, content []byte, mode os.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
	m.modes[path] = mode
}

func (m *MockClient) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldError[op] = err
}

func (m *MockClient) Uploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploads
}

func (m *MockClient) File(path string) ([]byte, os.FileMode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.files[path]
	return content, m.modes[path], ok
}

func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.shouldError["Close"]
}

func (m *MockClient) UploadFile(ctx context.Context, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	return m.UploadFileMode(ctx, localPath, remotePath, info.Mode().Perm())
}

func (m *MockClient) UploadFileMode(_ context.Context, localPath, remotePath string, perm os.FileMode) error {
	m.mu.RLock()
	err, ok := m.shouldError["UploadFile"]
	m.mu.RUnlock()
	if ok {
		return err
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.files[remotePath]; !exists {
		m.modes[remotePath] = perm
	}
	m.files[remotePath] = content
	m.uploads++
	return nil
}

func (m *MockClient) DownloadFile(_ context.Context, remotePath, localPath string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.shouldError["DownloadFile"]; ok {
		return err
	}
	content, exists := m.files[remotePath]
	if !exists {
		return &StatusError{Code: StatusNoSuchFile, Msg: "no such file"}
	}
	return os.WriteFile(localPath, content, 0644)
}

func (m *MockClient) GetFileHash(_ context.Context, remotePath string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.shouldError["GetFileHash"]; ok {
		return "", err
	}

	content, exists := m.files[remotePath]
	if !exists {
		return "", &StatusError{Code: StatusNoSuchFile, Msg: "no such file"}
	}

	return hashContent(content), nil
}

func (m *MockClient) ReadFileContent(_ context.Context, remotePath string, maxBytes int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.shouldError["ReadFileContent"]; ok {
		return nil, err
	}

	content, exists := m.files[remotePath]
	if !exists {
		return nil, &StatusError{Code: StatusNoSuchFile, Msg: "no such file"}
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		content = content[:maxBytes]
	}
	return content, nil
}

func (m *MockClient) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy && !m.closed
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

var errMockTransport = errors.New("mock transport failure")
