package minisftp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ClientInterface defines the file operations the Syncer and the CLI need.
// This allows for mocking in tests.
type ClientInterface interface {
	// Close closes the SFTP session and the SSH connection.
	Close() error
	// UploadFile uploads a local file, creating the remote file with the
	// local permission bits.
	UploadFile(ctx context.Context, localPath, remotePath string) error
	// UploadFileMode uploads a local file, creating the remote file with perm.
	UploadFileMode(ctx context.Context, localPath, remotePath string, perm os.FileMode) error
	// DownloadFile copies a remote file to a local path.
	DownloadFile(ctx context.Context, remotePath, localPath string) error
	// GetFileHash returns the SHA256 hash of a remote file.
	GetFileHash(ctx context.Context, remotePath string) (string, error)
	// ReadFileContent reads the content of a remote file.
	ReadFileContent(ctx context.Context, remotePath string, maxBytes int64) ([]byte, error)
	// IsHealthy reports whether the session can still carry requests.
	IsHealthy() bool
}

// Client owns an SSH connection and the SFTP session running over it.
//
// Operations are serialised: the underlying Session carries one request at
// a time. When an operation's context ends, the connection is closed,
// which fails the pending request and leaves the Client unhealthy.
type Client struct {
	mu      sync.Mutex
	session *Session
	conn    io.Closer
	logger  Logger
	closed  bool
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// NewClient dials the server, authenticates, opens the "sftp" subsystem
// and runs the SFTP version handshake.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config = config.WithDefaults()

	authMethods, err := buildAuthMethods(config)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := buildHostKeyCallback(config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
		BannerCallback: func(message string) error {
			config.Logger.Infof("Banner: %s", strings.TrimSpace(message))
			return nil
		},
	}

	targetAddr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	sshClient, err := ssh.Dial("tcp", targetAddr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", targetAddr, err)
	}

	ch, err := OpenSubsystem(sshClient, "sftp")
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}

	session, err := NewSession(ch, config.sessionOptions()...)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP session: %w", err)
	}

	config.Logger.Debugf("connected to %s as %s", targetAddr, config.User)
	return &Client{session: session, conn: sshClient, logger: config.Logger}, nil
}

// NewClientWithSession wraps an established session. conn, if not nil, is
// closed together with the session and when a context is cancelled.
// This is primarily used for testing against in-process servers.
func NewClientWithSession(session *Session, conn io.Closer) *Client {
	return &Client{session: session, conn: conn, logger: session.logger}
}

// Session returns the underlying SFTP session. Callers must not use it
// concurrently with the Client's own methods.
func (c *Client) Session() *Session {
	return c.session
}

// Close closes the SFTP session and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	err := c.session.Close()
	if c.conn == nil {
		return err
	}
	if err != nil {
		c.logger.Debugf("failed to close sftp channel: %v", err)
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// IsHealthy reports whether the client is open and no fatal error has
// broken its session.
func (c *Client) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.session.Err() == nil
}

// abort tears down the transport from outside the goroutine running a
// request. It does not touch session state.
func (c *Client) abort() {
	if c.conn != nil {
		c.conn.Close()
		return
	}
	c.session.ch.Close()
}

// do runs fn with the client lock held. If ctx ends first the connection
// is closed so that fn returns promptly.
func (c *Client) do(ctx context.Context, op string, fn func(s *Session) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation cancelled: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%s: %w", op, net.ErrClosed)
	}

	stop := context.AfterFunc(ctx, func() {
		c.logger.Warnf("%s cancelled, closing connection", op)
		c.abort()
	})
	err := fn(c.session)
	if !stop() && ctx.Err() != nil {
		return fmt.Errorf("%s cancelled: %w", op, ctx.Err())
	}
	return err
}

// UploadFile uploads a local file to the remote host.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	return c.UploadFileMode(ctx, localPath, remotePath, info.Mode().Perm())
}

// UploadFileMode uploads a local file to the remote host, creating or
// truncating the remote file with perm.
func (c *Client) UploadFileMode(ctx context.Context, localPath, remotePath string, perm os.FileMode) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	return c.do(ctx, "upload", func(s *Session) (err error) {
		remoteFile, err := s.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
		if err != nil {
			return fmt.Errorf("failed to create remote file: %w", err)
		}
		defer func() {
			if cerr := remoteFile.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close remote file: %w", cerr)
			}
		}()

		if _, err := remoteFile.ReadFrom(localFile); err != nil {
			return fmt.Errorf("failed to copy file content: %w", err)
		}
		return nil
	})
}

// DownloadFileMode is the permission given to newly downloaded files.
const DownloadFileMode os.FileMode = 0o644

// DownloadFile copies a remote file to localPath. The content is written
// to a temporary file next to localPath and renamed into place once the
// whole file has arrived. An existing localPath keeps its permissions; a
// new one gets DownloadFileMode.
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*")
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	err = c.do(ctx, "download", func(s *Session) error {
		remoteFile, err := s.Open(remotePath)
		if err != nil {
			return fmt.Errorf("failed to open remote file: %w", err)
		}
		defer remoteFile.Close()

		if _, err := copyFromRemote(tmp, remoteFile, s.maxRead); err != nil {
			return fmt.Errorf("failed to read remote file: %w", err)
		}
		return nil
	})
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to write local file: %w", cerr)
	}
	if err != nil {
		return err
	}

	mode := DownloadFileMode
	if fi, err := os.Stat(localPath); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("failed to set mode on download: %w", err)
	}

	if err := os.Rename(tmpName, localPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// GetFileHash returns the SHA256 hash of a remote file.
func (c *Client) GetFileHash(ctx context.Context, remotePath string) (string, error) {
	h := sha256.New()
	err := c.do(ctx, "hash", func(s *Session) error {
		file, err := s.Open(remotePath)
		if err != nil {
			return fmt.Errorf("failed to open remote file: %w", err)
		}
		defer file.Close()

		if _, err := copyFromRemote(h, file, s.maxRead); err != nil {
			return fmt.Errorf("failed to read remote file: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// ReadFileContent reads the content of a remote file. A positive maxBytes
// caps how much is read.
func (c *Client) ReadFileContent(ctx context.Context, remotePath string, maxBytes int64) ([]byte, error) {
	var content []byte
	err := c.do(ctx, "read", func(s *Session) error {
		file, err := s.Open(remotePath)
		if err != nil {
			return fmt.Errorf("failed to open remote file: %w", err)
		}
		defer file.Close()

		var reader io.Reader = file
		if maxBytes > 0 {
			reader = io.LimitReader(file, maxBytes)
		}

		content, err = io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("failed to read remote file: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// copyFromRemote copies f to w using buffers of one full read chunk, so
// every READ asks for as much as the session allows.
func copyFromRemote(w io.Writer, f *File, chunk int) (int64, error) {
	return io.CopyBuffer(w, f, make([]byte, chunk))
}

// Helper functions

func buildHostKeyCallback(config Config) (ssh.HostKeyCallback, error) {
	logger := loggerOrDefault(config.Logger)

	if config.InsecureIgnoreHostKey {
		logger.Warnf("SSH host key verification disabled for %s:%d - this is insecure!", config.Host, config.Port)
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if config.KnownHostsFile != "" {
		expandedPath := ExpandPath(config.KnownHostsFile)
		callback, err := knownhosts.New(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expandedPath, err)
		}
		return callback, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		defaultKnownHosts := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			logger.Warnf("Could not parse known_hosts file %s: %v", defaultKnownHosts, err)
		}
	}

	return nil, fmt.Errorf("no known_hosts file found for %s:%d (set known_hosts_file or insecure_ignore_host_key)", config.Host, config.Port)
}

func buildAuthMethods(config Config) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if config.PrivateKey != "" || config.KeyPath != "" {
		keyAuth, err := buildPrivateKeyAuth(config)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, keyAuth)
	}

	switch {
	case config.Password != "":
		authMethods = append(authMethods, ssh.Password(config.Password))

	case config.PasswordPrompt != nil:
		// x/crypto/ssh runs the userauth exchange itself, so the attempt
		// count is enforced here rather than by RetryPassword.
		attempt := 0
		prompt := ssh.PasswordCallback(func() (string, error) {
			attempt++
			return config.PasswordPrompt(context.Background(), config.User, attempt)
		})
		authMethods = append(authMethods, ssh.RetryableAuthMethod(prompt, config.MaxAuthAttempts))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured")
	}
	return authMethods, nil
}

func buildPrivateKeyAuth(config Config) (ssh.AuthMethod, error) {
	var keyData []byte
	var err error

	if config.PrivateKey != "" {
		keyData = []byte(config.PrivateKey)
	} else {
		keyData, err = os.ReadFile(ExpandPath(config.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// validModePattern matches valid Unix file permission modes.
var validModePattern = regexp.MustCompile(`^[0-7]{3,4}$`)

// ValidateMode checks if a file mode string is valid.
func ValidateMode(mode string) error {
	if mode == "" {
		return nil
	}
	if !validModePattern.MatchString(mode) {
		return fmt.Errorf("invalid mode %q: must be 3-4 octal digits", mode)
	}
	return nil
}

// ParseMode converts an octal mode string such as "0644" to a FileMode.
// The set-id and sticky bits are carried over.
func ParseMode(mode string) (os.FileMode, error) {
	if err := ValidateMode(mode); err != nil {
		return 0, err
	}
	if mode == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %s: %w", mode, err)
	}
	m := os.FileMode(v).Perm()
	if v&modeSetuid != 0 {
		m |= os.ModeSetuid
	}
	if v&modeSetgid != 0 {
		m |= os.ModeSetgid
	}
	if v&modeSticky != 0 {
		m |= os.ModeSticky
	}
	return m, nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// IsBinaryContent checks if content appears to be binary.
func IsBinaryContent(content []byte) bool {
	for _, b := range content {
		if b == 0 {
			return true
		}
	}
	return false
}
