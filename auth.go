package minisftp

import (
	"fmt"
	"strings"
)

const (
	serviceUserAuth   = "ssh-userauth"
	serviceConnection = "ssh-connection"
	methodPassword    = "password"
)

// BannerCallback receives USERAUTH_BANNER text sent during authentication.
type BannerCallback func(message, lang string)

type authConfig struct {
	banner BannerCallback
	logger Logger
}

// AuthOption configures UserAuthPassword.
type AuthOption func(*authConfig)

// WithBannerCallback delivers banners to fn instead of the logger.
func WithBannerCallback(fn BannerCallback) AuthOption {
	return func(c *authConfig) {
		c.banner = fn
	}
}

// WithAuthLogger sets the logger used during authentication.
func WithAuthLogger(l Logger) AuthOption {
	return func(c *authConfig) {
		c.logger = l
	}
}

type authState int

const (
	authServiceRequested authState = iota
	authPasswordSent
	authBannerSeen
	authSuccess
	authPasswordChangeRequired
	authFailure
	authProtocolError
)

func (s authState) String() string {
	switch s {
	case authServiceRequested:
		return "service-requested"
	case authPasswordSent:
		return "password-sent"
	case authBannerSeen:
		return "banner-seen"
	case authSuccess:
		return "success"
	case authPasswordChangeRequired:
		return "password-change-required"
	case authFailure:
		return "failure"
	case authProtocolError:
		return "protocol-error"
	}
	return fmt.Sprintf("auth-state(%d)", int(s))
}

// RequestUserAuthService asks the server for the ssh-userauth service. Any
// reply other than a SERVICE_ACCEPT naming that service is a *ProtocolError.
func RequestUserAuthService(t MessageTransport) error {
	const op = "service request"

	req, err := Pack("bs", byte(msgServiceRequest), serviceUserAuth)
	if err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	if err := t.SendMessage(req); err != nil {
		return &ProtocolError{Op: op, Err: fmt.Errorf("failed to send: %w", err)}
	}

	reply, err := t.ReceiveMessage()
	if err != nil {
		return &ProtocolError{Op: op, Err: fmt.Errorf("failed to receive: %w", err)}
	}

	var typ byte
	var service string
	if _, err := Unpack(reply, "bs", &typ, &service); err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	if typ != msgServiceAccept {
		return &ProtocolError{Op: op, Err: fmt.Errorf("expected SERVICE_ACCEPT, got message %d", typ)}
	}
	if service != serviceUserAuth {
		return &ProtocolError{Op: op, Err: fmt.Errorf("server accepted service %q, requested %q", service, serviceUserAuth)}
	}
	return nil
}

// UserAuthPassword submits one password for user and waits for a verdict.
//
// It returns nil on success, a *AuthFailureError (matching ErrAuthDenied)
// when the password is rejected, a *PasswordChangeError (matching
// ErrPasswordChangeRequired) when the server demands a new password, and a
// *ProtocolError for any transport or decode failure. Only the first case
// of rejection is worth retrying; counting attempts is up to the caller.
func UserAuthPassword(t MessageTransport, user, password string, opts ...AuthOption) error {
	const op = "password auth"

	cfg := authConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := loggerOrDefault(cfg.logger)

	req, err := Pack("bsssbs",
		byte(msgUserAuthRequest), user, serviceConnection, methodPassword, false, password)
	if err != nil {
		return &ProtocolError{Op: op, Err: err}
	}

	logger.Infof("Trying password authentication for %s", user)
	if err := t.SendMessage(req); err != nil {
		return &ProtocolError{Op: op, Err: fmt.Errorf("failed to send: %w", err)}
	}

	state := authPasswordSent
	transition := func(next authState) {
		logger.Debugf("auth %s -> %s", state, next)
		state = next
	}

	for {
		raw, err := t.ReceiveMessage()
		if err != nil {
			err = fmt.Errorf("failed to receive in state %s: %w", state, err)
			transition(authProtocolError)
			return &ProtocolError{Op: op, Err: err}
		}
		msg, err := ParseMessage(raw)
		if err != nil {
			transition(authProtocolError)
			return &ProtocolError{Op: op, Err: err}
		}

		switch msg.Type {
		case msgUserAuthBanner:
			var text, lang string
			if _, err := Unpack(msg.Payload, "ss", &text, &lang); err != nil {
				transition(authProtocolError)
				return &ProtocolError{Op: op, Err: fmt.Errorf("bad banner: %w", err)}
			}
			transition(authBannerSeen)
			if cfg.banner != nil {
				cfg.banner(text, lang)
			} else {
				logger.Infof("Banner: %s (lang %q)", text, lang)
			}

		case msgUserAuthSuccess:
			transition(authSuccess)
			logger.Infof("Authentication succeeded for %s", user)
			return nil

		case msgUserAuthPasswdChangeReq:
			var prompt, lang string
			if _, err := Unpack(msg.Payload, "ss", &prompt, &lang); err != nil {
				transition(authProtocolError)
				return &ProtocolError{Op: op, Err: fmt.Errorf("bad password change request: %w", err)}
			}
			transition(authPasswordChangeRequired)
			logger.Warnf("Server requires a password change for %s", user)
			return &PasswordChangeError{Prompt: prompt, Lang: lang}

		case msgUserAuthFailure:
			var methods string
			var partial bool
			if _, err := Unpack(msg.Payload, "sb", &methods, &partial); err != nil {
				transition(authProtocolError)
				return &ProtocolError{Op: op, Err: fmt.Errorf("bad failure message: %w", err)}
			}
			transition(authFailure)
			logger.Infof("Permission denied for %s", user)
			return &AuthFailureError{Methods: splitNameList(methods), PartialSuccess: partial}

		default:
			logger.Debugf("Ignoring message %d in state %s", msg.Type, state)
		}
	}
}

func splitNameList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
