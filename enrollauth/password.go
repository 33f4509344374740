// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package enrollauth

import (
	"context"
	"time"

	"github.com/rina-project/ipcmd/types"
)

const challengeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func (a *Authenticator) randomChallenge(length int) []byte {
	if length <= 0 {
		length = DefaultChallengeLength
	}
	out := make([]byte, length)
	a.mu.Lock()
	for i := range out {
		out[i] = challengeAlphabet[a.rng.Intn(len(challengeAlphabet))]
	}
	a.mu.Unlock()
	return out
}

// xorCipher is the "default_cipher" named in the password-auth policy:
// a repeated-key XOR. It is its own inverse, so the same call encrypts
// and decrypts.
func xorCipher(data []byte, key string) []byte {
	if len(key) == 0 {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

func cipherName(profile types.AuthProfile, log interface {
	Warnf(string, ...interface{})
}) string {
	name := profile.CipherName
	if name == "" {
		name = defaultCipher
	}
	if name != defaultCipher {
		log.Warnf("enrollauth: cipher %q requested, only %q is implemented", name, defaultCipher)
	}
	return name
}

// beginPassword is the requester side of authentication policy
// PASSWORD: generate a challenge, remember it, send it in the clear
// inside a CHALLENGE_REQUEST, and arm a timeout.
func (a *Authenticator) beginPassword(ctx context.Context, key types.SecurityContextKey, profile types.AuthProfile) error {
	cipher := cipherName(profile, a.log)
	challenge := a.randomChallenge(profile.ChallengeLength)

	sc := &types.SecurityContext{
		Key:             key,
		AuthKind:        types.AuthPassword,
		Password:        profile.Password,
		Challenge:       challenge,
		ChallengeLength: len(challenge),
		CipherName:      cipher,
		State:           types.PasswordAuthChallengeSent,
	}
	a.putSession(key, sc)

	msg := types.AuthMessage{PortID: key.PortID, Class: "challenge request", Name: cipher, Value: challenge}
	cmd := types.Command{Kind: types.CmdForwardedCDAP, IPCPID: key.LocalIPCPID, Payload: msg}
	if err := a.sink.Send(ctx, cmd); err != nil {
		a.Destroy(key)
		return err
	}

	timeout := time.Duration(profile.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a.armTimer(key, timeout)
	return nil
}

func (a *Authenticator) armTimer(key types.SecurityContextKey, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		a.fail(key, "challenge timed out")
	})
	a.mu.Lock()
	if s, ok := a.sessions[key]; ok {
		s.timer = timer
	} else {
		timer.Stop()
	}
	a.mu.Unlock()
}

// handleChallengeRequest is the responder side: encrypt the received
// challenge with the shared password and reply.
func (a *Authenticator) handleChallengeRequest(ctx context.Context, key types.SecurityContextKey, profile types.AuthProfile, msg types.AuthMessage) error {
	cipher := cipherName(profile, a.log)
	ciphertext := xorCipher(msg.Value, profile.Password)

	sc := &types.SecurityContext{
		Key:        key,
		AuthKind:   types.AuthPassword,
		Password:   profile.Password,
		CipherName: cipher,
		State:      types.PasswordAuthReplySent,
	}
	a.putSession(key, sc)

	reply := types.AuthMessage{PortID: key.PortID, Class: "challenge reply", Name: cipher, Value: ciphertext}
	cmd := types.Command{Kind: types.CmdForwardedCDAP, IPCPID: key.LocalIPCPID, Payload: reply}
	if err := a.sink.Send(ctx, cmd); err != nil {
		a.Destroy(key)
		return err
	}
	return nil
}

// handleChallengeReply is the requester side: cancel the timer, decrypt
// and compare byte-exact to the challenge sent earlier.
func (a *Authenticator) handleChallengeReply(key types.SecurityContextKey, msg types.AuthMessage) {
	s, ok := a.getSession(key)
	if !ok {
		a.log.Warnf("enrollauth: challenge reply for unknown session %s", key.Key())
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	plain := xorCipher(msg.Value, s.ctx.Password)
	if !equalBytes(plain, s.ctx.Challenge) {
		a.fail(key, "challenge mismatch")
		return
	}

	a.mu.Lock()
	s.ctx.State = types.PasswordAuthSuccess
	a.mu.Unlock()
	a.publishResult(key, Result{Success: true})
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
