package minisftp

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds SSH connection and SFTP session configuration.
type Config struct {
	// Host is the target SSH server hostname or IP address.
	Host string `yaml:"host"`

	// Port is the SSH port (default 22).
	Port int `yaml:"port"`

	// User is the SSH username.
	User string `yaml:"user"`

	// Password is used for password authentication. When empty and no key
	// is configured, PasswordPrompt is asked instead.
	Password string `yaml:"password"`

	// PrivateKey is the SSH private key content (PEM encoded).
	// Mutually exclusive with KeyPath.
	PrivateKey string `yaml:"private_key"`

	// KeyPath is the path to the SSH private key file.
	// Mutually exclusive with PrivateKey.
	KeyPath string `yaml:"key_path"`

	// KnownHostsFile is the path to a known_hosts file for host key verification.
	// If not set, defaults to ~/.ssh/known_hosts if it exists.
	KnownHostsFile string `yaml:"known_hosts_file"`

	// InsecureIgnoreHostKey skips host key verification.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key"`

	// Timeout is the connection timeout (default 30s).
	Timeout time.Duration `yaml:"timeout"`

	// MaxAuthAttempts bounds how many passwords are tried (default 3).
	MaxAuthAttempts int `yaml:"max_auth_attempts"`

	// MaxPacketLength bounds incoming SFTP frames.
	MaxPacketLength uint32 `yaml:"max_packet_length"`

	// MaxWriteChunk is the largest payload sent per WRITE request.
	MaxWriteChunk int `yaml:"max_write_chunk"`

	// MaxReadChunk is the largest length asked for per READ request.
	MaxReadChunk int `yaml:"max_read_chunk"`

	// Logger receives diagnostics. Defaults to a StdLogger on stderr.
	Logger Logger `yaml:"-"`

	// PasswordPrompt is asked for passwords when Password is empty.
	PasswordPrompt PasswordPrompt `yaml:"-"`
}

// WithDefaults returns a copy of the config with default values applied.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAuthAttempts == 0 {
		c.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	if c.MaxPacketLength == 0 {
		c.MaxPacketLength = DefaultMaxPacketLength
	}
	if c.MaxWriteChunk == 0 {
		c.MaxWriteChunk = DefaultMaxWriteChunk
	}
	if c.MaxReadChunk == 0 {
		c.MaxReadChunk = DefaultMaxReadChunk
	}
	if c.Logger == nil {
		c.Logger = defaultLogger
	}
	return c
}

// Validate reports the first problem that would stop NewClient.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.User == "" {
		return errors.New("user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PrivateKey != "" && c.KeyPath != "" {
		return errors.New("private_key and key_path are mutually exclusive")
	}
	if c.Password == "" && c.PrivateKey == "" && c.KeyPath == "" && c.PasswordPrompt == nil {
		return errors.New("no authentication method configured: set password, private_key or key_path")
	}
	if c.MaxPacketLength != 0 && c.MaxPacketLength < packetHeaderLen {
		return fmt.Errorf("max_packet_length must be at least %d", packetHeaderLen)
	}
	if c.MaxWriteChunk < 0 || c.MaxReadChunk < 0 {
		return errors.New("chunk sizes must not be negative")
	}
	if c.MaxAuthAttempts < 0 {
		return errors.New("max_auth_attempts must not be negative")
	}
	return nil
}

// sessionOptions maps the SFTP limits of c onto session options.
func (c Config) sessionOptions() []SessionOption {
	return []SessionOption{
		WithMaxPacketLength(c.MaxPacketLength),
		WithMaxWriteChunk(c.MaxWriteChunk),
		WithMaxReadChunk(c.MaxReadChunk),
		WithLogger(c.Logger),
	}
}

// LoadConfig reads a YAML config file. Defaults are not applied.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, nil
}
