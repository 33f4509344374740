// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package types

import "strconv"

// SecurityContextKey identifies a security context by the (local IPCP,
// N-1 flow port-id) pair it is scoped to.
type SecurityContextKey struct {
	LocalIPCPID int
	PortID      int
}

// Key implements objtonum.ObjKey.
func (k SecurityContextKey) Key() string {
	return "sec:" + strconv.Itoa(k.LocalIPCPID) + ":" + strconv.Itoa(k.PortID)
}

// AuthKind names which authentication policy a security context is running.
type AuthKind uint8

// Supported authentication kinds.
const (
	AuthNone AuthKind = iota
	AuthPassword
	AuthSSHRSA
)

// ParseAuthKind maps an AuthProfile.Kind string to an AuthKind. An
// empty or unrecognised string resolves to AuthNone.
func ParseAuthKind(s string) AuthKind {
	switch s {
	case "password":
		return AuthPassword
	case "ssh-rsa":
		return AuthSSHRSA
	default:
		return AuthNone
	}
}

// AuthMessage is the object-class/object-name/object-value triple an
// enrollment authentication handshake exchanges over the kernel/IPCP
// peer surface; the kernel is responsible for wrapping it as a CDAP
// M_WRITE operation on the wire.
type AuthMessage struct {
	PortID int
	Class  string // "challenge request" or "challenge reply"
	Name   string // cipher identifier
	Value  []byte
}

// PasswordAuthState tracks a password-auth session's sub-state machine.
type PasswordAuthState uint8

// Password auth sub-states.
const (
	PasswordAuthIdle PasswordAuthState = iota
	PasswordAuthChallengeSent
	PasswordAuthReplySent
	PasswordAuthSuccess
	PasswordAuthFailed
)

// SecurityContext is created on enrollment start and destroyed no
// later than the N-1 flow whose port-id keys it.
type SecurityContext struct {
	Key SecurityContextKey

	SessionID  uint64
	CRCPolicy  string
	TTLPolicy  string
	AuthKind   AuthKind

	// Password-auth fields.
	Password        string
	Challenge       []byte
	ChallengeLength int
	CipherName      string
	State           PasswordAuthState
	TimerID         uint64 // 0 if no timer armed

	// SSH-RSA fields.
	KeyExchangeAlg string
	EncryptionAlg  string
	MACAlg         string
	CompressionAlg string
}
