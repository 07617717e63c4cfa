package minisftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DefaultMaxAuthAttempts is the number of passwords tried before giving up.
const DefaultMaxAuthAttempts = 3

// PasswordPrompt supplies the password for an attempt. attempt counts from 1.
type PasswordPrompt func(ctx context.Context, user string, attempt int) (string, error)

// StaticPassword returns a prompt that always answers with password.
func StaticPassword(password string) PasswordPrompt {
	return func(context.Context, string, int) (string, error) {
		return password, nil
	}
}

// RetryPassword runs password authentication over t, asking prompt for a
// new password each time the server denies one, until maxAttempts
// passwords have been refused. The ssh-userauth service must already have
// been accepted.
//
// Only denials are retried. A password change request, a protocol error or
// an error from prompt ends the loop at once.
func RetryPassword(ctx context.Context, t MessageTransport, user string, prompt PasswordPrompt, maxAttempts int, opts ...AuthOption) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAuthAttempts
	}

	cfg := authConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := loggerOrDefault(cfg.logger)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("password authentication cancelled: %w", err)
		}

		password, err := prompt(ctx, user, attempt)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		err = UserAuthPassword(t, user, password, opts...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrAuthDenied) {
			return err
		}

		lastErr = err
		if attempt < maxAttempts {
			logger.Warnf("Password authentication for %s failed (attempt %d/%d)", user, attempt, maxAttempts)
		}
	}

	return fmt.Errorf("password authentication failed after %d attempts: %w", maxAttempts, lastErr)
}

// IsRetryableError reports whether err is worth another attempt.
//
// A denied password is retryable, as are server statuses that describe a
// transient condition. Protocol errors never are. Transport errors are,
// but only on a fresh connection. Other errors are judged by whether they
// look like a network hiccup.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrAuthDenied) {
		return true
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case StatusFailure, StatusNoConnection, StatusConnectionLost:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	errMsg := strings.ToLower(err.Error())
	retryableMessages := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no route to host",
		"network is unreachable",
		"i/o timeout",
		"handshake failed",
		"ssh: disconnect",
		"temporary failure",
	}

	for _, msg := range retryableMessages {
		if strings.Contains(errMsg, msg) {
			return true
		}
	}

	return false
}
