package minisftp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNoConnection is returned by a Syncer whose client was lost and could
// not be replaced.
var ErrNoConnection = errors.New("syncer has no connection")

// Syncer uploads files only when the remote copy differs.
type Syncer struct {
	client ClientInterface
	config Config
	pool   *ConnectionPool
	logger Logger
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithConnectionPool leases the syncer's client from pool instead of
// dialing a dedicated one.
func WithConnectionPool(pool *ConnectionPool) SyncerOption {
	return func(s *Syncer) {
		s.pool = pool
	}
}

// NewSyncer creates a new Syncer with the given configuration.
func NewSyncer(config Config, opts ...SyncerOption) (*Syncer, error) {
	s := &Syncer{
		config: config,
		logger: loggerOrDefault(config.Logger),
	}

	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.pool != nil {
		s.client, err = s.pool.GetOrCreate(config)
	} else {
		s.client, err = NewClient(config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH client: %w", err)
	}

	return s, nil
}

// NewSyncerWithClient creates a Syncer around an existing client. Close
// closes that client.
func NewSyncerWithClient(client ClientInterface, logger Logger) *Syncer {
	return &Syncer{client: client, logger: loggerOrDefault(logger)}
}

// Close closes the syncer and releases resources.
func (s *Syncer) Close() error {
	if s.client == nil {
		return nil
	}
	if s.pool != nil {
		if c, ok := s.client.(*Client); ok {
			s.pool.Release(c)
			return nil
		}
	}
	return s.client.Close()
}

// Client returns the underlying client. It is nil after a failed reconnect
// until the next SyncFile dials again.
func (s *Syncer) Client() ClientInterface {
	return s.client
}

// SyncOptions configures SyncFile.
type SyncOptions struct {
	// Mode is the permission, in octal (e.g. "0644"), given to the remote
	// file when it is created. Empty means the local file's permissions.
	Mode string

	// Force uploads even when the hashes match.
	Force bool

	// DryRun only reports whether the file would be uploaded.
	DryRun bool
}

// SyncResult represents the result of a sync operation.
type SyncResult struct {
	// LocalPath is the source file path.
	LocalPath string

	// RemotePath is the destination file path.
	RemotePath string

	// Hash is the SHA256 hash of the local file content.
	Hash string

	// RemoteHash is the SHA256 hash of the remote file before the sync,
	// empty if it did not exist.
	RemoteHash string

	// Size is the file size in bytes.
	Size int64

	// Changed indicates the remote content differs, and was uploaded
	// unless DryRun was set.
	Changed bool

	// Error contains any error that occurred during sync.
	Error error
}

// SyncFile uploads localPath to remotePath unless the remote file already
// has the same content.
func (s *Syncer) SyncFile(ctx context.Context, localPath, remotePath string, opts *SyncOptions) (*SyncResult, error) {
	if opts == nil {
		opts = &SyncOptions{}
	}

	result := &SyncResult{
		LocalPath:  localPath,
		RemotePath: remotePath,
	}

	if err := s.ensureClient(); err != nil {
		result.Error = err
		return result, err
	}

	perm, err := ParseMode(opts.Mode)
	if err != nil {
		result.Error = err
		return result, err
	}

	hash, size, err := HashFile(localPath)
	if err != nil {
		result.Error = fmt.Errorf("failed to hash local file: %w", err)
		return result, result.Error
	}
	result.Hash = hash
	result.Size = size

	remoteHash, err := s.client.GetFileHash(ctx, remotePath)
	switch {
	case err == nil:
		result.RemoteHash = remoteHash
	case IsStatus(err, StatusNoSuchFile):
		s.logger.Debugf("remote file %s does not exist", remotePath)
	default:
		result.Error = fmt.Errorf("failed to hash remote file: %w", err)
		return result, result.Error
	}

	if remoteHash == hash && !opts.Force {
		s.logger.Debugf("%s is up to date", remotePath)
		return result, nil
	}
	result.Changed = true

	if opts.DryRun {
		s.logger.Infof("would upload %s to %s", localPath, remotePath)
		return result, nil
	}

	if err := s.upload(ctx, localPath, remotePath, perm); err != nil {
		result.Error = err
		return result, err
	}
	s.logger.Infof("uploaded %s to %s (%d bytes)", localPath, remotePath, size)
	return result, nil
}

// upload sends the file, reconnecting through the pool once when the
// failure looks transient.
func (s *Syncer) upload(ctx context.Context, localPath, remotePath string, perm os.FileMode) error {
	err := s.uploadOnce(ctx, localPath, remotePath, perm)
	if err == nil || s.pool == nil || !IsRetryableError(err) || s.client.IsHealthy() {
		return err
	}

	s.logger.Warnf("upload of %s failed: %v. Reconnecting...", remotePath, err)
	if c, ok := s.client.(*Client); ok {
		s.pool.Release(c)
	}
	client, cerr := s.pool.GetOrCreate(s.config)
	if cerr != nil {
		s.client = nil
		return fmt.Errorf("failed to reconnect after %v: %w", err, cerr)
	}
	s.client = client
	return s.uploadOnce(ctx, localPath, remotePath, perm)
}

// ensureClient replaces a client lost in an earlier reconnect.
func (s *Syncer) ensureClient() error {
	if s.client != nil {
		return nil
	}
	if s.pool == nil {
		return ErrNoConnection
	}
	client, err := s.pool.GetOrCreate(s.config)
	if err != nil {
		return fmt.Errorf("failed to reconnect: %w: %w", ErrNoConnection, err)
	}
	s.client = client
	return nil
}

func (s *Syncer) uploadOnce(ctx context.Context, localPath, remotePath string, perm os.FileMode) error {
	if perm == 0 {
		return s.client.UploadFile(ctx, localPath, remotePath)
	}
	return s.client.UploadFileMode(ctx, localPath, remotePath, perm)
}

// HashFile computes the SHA256 hash of a file.
func HashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	h := sha256.New()
	size, err := io.Copy(h, file)
	if err != nil {
		return "", 0, err
	}

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), size, nil
}
