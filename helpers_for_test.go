package minisftp

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	testUser     = "testuser"
	testPassword = "correct horse battery staple"
)

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}))

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, []byte(privateKeyPEM), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	return privateKeyPEM, keyPath
}

// publicKeyOf returns the SSH public key for a PEM-encoded private key.
func publicKeyOf(t *testing.T, privateKeyPEM string) ssh.PublicKey {
	t.Helper()

	signer, err := ssh.ParsePrivateKey([]byte(privateKeyPEM))
	if err != nil {
		t.Fatalf("failed to parse private key: %v", err)
	}
	return signer.PublicKey()
}

// createTempFile creates a temporary file with the given content.
func createTempFile(t testing.TB, content []byte) string {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "test_file")
	if err := os.WriteFile(tmpFile, content, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	return tmpFile
}

// assertFileContents verifies that a file has the expected content.
func assertFileContents(t *testing.T, path string, expected []byte) {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("failed to read file %s: %v", path, err)
		return
	}

	if string(content) != string(expected) {
		t.Errorf("file content mismatch:\nexpected: %q\ngot: %q", string(expected), string(content))
	}
}

// patternBytes returns n bytes of a repeating, non-trivial pattern.
func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// pipeChannel adapts one end of a net.Pipe to Channel.
type pipeChannel struct {
	net.Conn
}

func (pipeChannel) CloseWrite() error { return nil }

// newMemSession starts a session against an in-memory SFTP server over a
// synchronous pipe. The returned handlers hold the server's file tree.
func newMemSession(t testing.TB, opts ...SessionOption) *Session {
	t.Helper()

	s, _ := newMemSessionWithHandlers(t, sftp.InMemHandler(), opts...)
	return s
}

func newMemSessionWithHandlers(t testing.TB, handlers sftp.Handlers, opts ...SessionOption) (*Session, net.Conn) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, handlers)
	go func() {
		_ = server.Serve()
		server.Close()
	}()

	opts = append([]SessionOption{WithLogger(NopLogger{})}, opts...)
	s, err := NewSession(pipeChannel{clientConn}, opts...)
	if err != nil {
		serverConn.Close()
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		serverConn.Close()
	})
	return s, clientConn
}

// writeRemote creates path on s with content.
func writeRemote(t testing.TB, s *Session, path string, content []byte) {
	t.Helper()

	f, err := s.Create(path)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", path, err)
	}
	if n, err := f.Write(content); err != nil || n != len(content) {
		t.Fatalf("Write(%s) = %d, %v; want %d, nil", path, n, err, len(content))
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close(%s) error = %v", path, err)
	}
}

// testSSHServer is an in-process SSH server exposing an in-memory SFTP
// subsystem. Every connection shares one file tree.
type testSSHServer struct {
	addr           string
	host           string
	port           int
	knownHostsFile string

	password   string
	authorized ssh.PublicKey
	handlers   sftp.Handlers

	mu    sync.Mutex
	conns []*ssh.ServerConn
}

// startTestSSHServer listens on a loopback port until the test ends.
// authorized may be nil to disable public key authentication.
func startTestSSHServer(t testing.TB, password string, authorized ssh.PublicKey) *testSSHServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("failed to create host key signer: %v", err)
	}

	srv := &testSSHServer{
		password:   password,
		authorized: authorized,
		handlers:   sftp.InMemHandler(),
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pass) == srv.password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if srv.authorized != nil && c.User() == testUser &&
				string(key.Marshal()) == string(srv.authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		},
		BannerCallback: func(ssh.ConnMetadata) string {
			return "test server\n"
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	tcpAddr := ln.Addr().(*net.TCPAddr)
	srv.addr = tcpAddr.String()
	srv.host = tcpAddr.IP.String()
	srv.port = tcpAddr.Port

	srv.knownHostsFile = filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, signer.PublicKey())
	if err := os.WriteFile(srv.knownHostsFile, []byte(line+"\n"), 0600); err != nil {
		t.Fatalf("failed to write known_hosts: %v", err)
	}

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(nc, config)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		srv.dropConnections()
	})
	return srv
}

func (s *testSSHServer) handle(nc net.Conn, config *ssh.ServerConfig) {
	_ = nc.SetDeadline(time.Now().Add(10 * time.Second))
	conn, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		nc.Close()
		return
	}
	_ = nc.SetDeadline(time.Time{})

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, requests)
	}
}

func (s *testSSHServer) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		ok := false
		if req.Type == "subsystem" {
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err == nil && payload.Name == "sftp" {
				ok = true
			}
		}
		if req.WantReply {
			_ = req.Reply(ok, nil)
		}
		if ok {
			go func() {
				server := sftp.NewRequestServer(ch, s.handlers)
				_ = server.Serve()
				server.Close()
			}()
		}
	}
}

// dropConnections closes every accepted connection, as a crashing server would.
func (s *testSSHServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// config returns a client config that authenticates with the server's password.
func (s *testSSHServer) config() Config {
	return Config{
		Host:           s.host,
		Port:           s.port,
		User:           testUser,
		Password:       s.password,
		KnownHostsFile: s.knownHostsFile,
		Timeout:        5 * time.Second,
		Logger:         NopLogger{},
	}
}

// withTestClient creates a client and calls the provided function, ensuring cleanup.
func withTestClient(t *testing.T, config Config, fn func(t *testing.T, client *Client)) {
	t.Helper()

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	fn(t, client)
}
