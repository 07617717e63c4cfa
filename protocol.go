package minisftp

import (
	"fmt"
	"strings"
)

// ProtocolVersion is the only SFTP version this client speaks
// (draft-ietf-secsh-filexfer-02).
const ProtocolVersion = 3

// Tunable limits.
const (
	// DefaultMaxPacketLength bounds the declared length of an incoming SFTP frame.
	DefaultMaxPacketLength = 0x10000000
	// DefaultMaxWriteChunk is the largest payload sent in one WRITE request.
	DefaultMaxWriteChunk = 32768
	// DefaultMaxReadChunk is the largest length asked for in one READ request.
	DefaultMaxReadChunk = 32768
)

// SFTP packet types.
const (
	fxpInit    = 1
	fxpVersion = 2
	fxpOpen    = 3
	fxpClose   = 4
	fxpRead    = 5
	fxpWrite   = 6
	fxpStatus  = 101
	fxpHandle  = 102
	fxpData    = 103
	fxpAttrs   = 105
)

// SFTP status codes.
const (
	StatusOK               = 0
	StatusEOF              = 1
	StatusNoSuchFile       = 2
	StatusPermissionDenied = 3
	StatusFailure          = 4
	StatusBadMessage       = 5
	StatusNoConnection     = 6
	StatusConnectionLost   = 7
	StatusOpUnsupported    = 8
)

// SFTP open flags (pflags).
const (
	FlagRead   = 0x00000001
	FlagWrite  = 0x00000002
	FlagAppend = 0x00000004
	FlagCreat  = 0x00000008
	FlagTrunc  = 0x00000010
	FlagExcl   = 0x00000020
)

// SFTP attribute flags.
const (
	attrSize        = 0x00000001
	attrUIDGID      = 0x00000002
	attrPermissions = 0x00000004
	attrACModTime   = 0x00000008
	attrExtended    = 0x80000000
)

// SSH transport and userauth message numbers (RFC 4253, RFC 4252).
const (
	msgServiceRequest          = 5
	msgServiceAccept           = 6
	msgUserAuthRequest         = 50
	msgUserAuthFailure         = 51
	msgUserAuthSuccess         = 52
	msgUserAuthBanner          = 53
	msgUserAuthPasswdChangeReq = 60
)

func packetName(t uint8) string {
	switch t {
	case fxpInit:
		return "SSH_FXP_INIT"
	case fxpVersion:
		return "SSH_FXP_VERSION"
	case fxpOpen:
		return "SSH_FXP_OPEN"
	case fxpClose:
		return "SSH_FXP_CLOSE"
	case fxpRead:
		return "SSH_FXP_READ"
	case fxpWrite:
		return "SSH_FXP_WRITE"
	case fxpStatus:
		return "SSH_FXP_STATUS"
	case fxpHandle:
		return "SSH_FXP_HANDLE"
	case fxpData:
		return "SSH_FXP_DATA"
	case fxpAttrs:
		return "SSH_FXP_ATTRS"
	}
	return fmt.Sprintf("packet type %d", t)
}

func packetNames(ts []uint8) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = packetName(t)
	}
	return strings.Join(names, " or ")
}

func statusName(code uint32) string {
	switch code {
	case StatusOK:
		return "ok"
	case StatusEOF:
		return "end of file"
	case StatusNoSuchFile:
		return "no such file"
	case StatusPermissionDenied:
		return "permission denied"
	case StatusFailure:
		return "failure"
	case StatusBadMessage:
		return "bad message"
	case StatusNoConnection:
		return "no connection"
	case StatusConnectionLost:
		return "connection lost"
	case StatusOpUnsupported:
		return "operation unsupported"
	}
	return "unknown status"
}
