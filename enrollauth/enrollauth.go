// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package enrollauth implements the enrollment authenticator: a
// pluggable policy (none, password, ssh-rsa) run as a per-session state
// machine keyed by (local IPCP id, N-1 flow port id). It issues its
// handshake messages through the same kernelif.CommandSink the
// orchestrator uses, and is told about incoming peer messages and
// flow teardown by whoever owns the event dispatch loop.
package enrollauth

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/kernelif"
	"github.com/rina-project/ipcmd/objtonum"
	"github.com/rina-project/ipcmd/pubsub"
	"github.com/rina-project/ipcmd/types"
)

// DefaultChallengeLength is used when a profile does not name one.
const DefaultChallengeLength = 16

// DefaultTimeout bounds a password challenge/reply round trip when a
// profile does not name one.
const DefaultTimeout = 10 * time.Second

// defaultCipher is the only cipher this daemon actually implements; a
// non-default cipher name is accepted but logged as unimplemented.
const defaultCipher = "default_cipher"

// Result is published on Authenticator.Results() when a session reaches
// a terminal state.
type Result struct {
	Success bool
	Err     error
}

// session is the authenticator's bookkeeping for one SecurityContext,
// layered on top of the plain fields types.SecurityContext exposes to
// callers outside this package.
type session struct {
	ctx   *types.SecurityContext
	timer *time.Timer
}

// Authenticator runs every live enrollment authentication session.
type Authenticator struct {
	log  *base.LogObject
	sink kernelif.CommandSink
	rng  *rand.Rand

	results *pubsub.Publication
	ids     *objtonum.MonotonicCounter

	mu       sync.Mutex
	sessions map[types.SecurityContextKey]*session
	resolver ProfileResolver
}

// New creates an Authenticator. seed feeds the password-challenge
// random source; callers should seed it once at startup from a real
// entropy source.
func New(log *base.LogObject, sink kernelif.CommandSink, seed int64) *Authenticator {
	return &Authenticator{
		log:      log,
		sink:     sink,
		rng:      rand.New(rand.NewSource(seed)),
		results:  pubsub.NewPublication(),
		ids:      objtonum.NewMonotonicCounter(1),
		sessions: make(map[types.SecurityContextKey]*session),
	}
}

// Results returns the publication that reports SUCCESS/FAILED for a
// session, keyed by the session's SecurityContextKey.Key().
func (a *Authenticator) Results() *pubsub.Publication {
	return a.results
}

// Begin starts authentication for key under the named policy, acting as
// both get_policy() and initiate() from the requester's point of view.
// For AuthNone the session is immediately SUCCESS. For AuthPassword a
// CHALLENGE_REQUEST is sent and a timeout timer armed. For AuthSSHRSA
// the returned body is the protobuf-encoded options envelope to attach
// to the enroll command; the session is considered negotiated as soon
// as the envelope is built, per the narrow scope this daemon implements.
func (a *Authenticator) Begin(ctx context.Context, key types.SecurityContextKey, kind types.AuthKind, profile types.AuthProfile) ([]byte, error) {
	switch kind {
	case types.AuthNone:
		a.putSession(key, &types.SecurityContext{Key: key, AuthKind: types.AuthNone})
		a.publishResult(key, Result{Success: true})
		return nil, nil
	case types.AuthPassword:
		return nil, a.beginPassword(ctx, key, profile)
	case types.AuthSSHRSA:
		return a.beginSSHRSA(key, profile)
	default:
		return nil, &types.Protocol{Detail: fmt.Sprintf("enrollauth: unknown auth kind %d", kind)}
	}
}

// Destroy unconditionally tears down the session for key, per the
// invariant that a context's lifetime never outlives the N-1 flow it
// is scoped to. Safe to call for a key with no live session.
func (a *Authenticator) Destroy(key types.SecurityContextKey) {
	a.mu.Lock()
	s, ok := a.sessions[key]
	if ok {
		delete(a.sessions, key)
	}
	a.mu.Unlock()
	if ok && s.timer != nil {
		s.timer.Stop()
	}
}

func (a *Authenticator) putSession(key types.SecurityContextKey, sc *types.SecurityContext) {
	sc.SessionID = a.ids.Next()
	a.mu.Lock()
	a.sessions[key] = &session{ctx: sc}
	a.mu.Unlock()
}

func (a *Authenticator) getSession(key types.SecurityContextKey) (*session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[key]
	return s, ok
}

func (a *Authenticator) publishResult(key types.SecurityContextKey, r Result) {
	a.results.Publish(key.Key(), r)
}

func (a *Authenticator) fail(key types.SecurityContextKey, reason string) {
	a.Destroy(key)
	a.publishResult(key, Result{Err: &types.AuthenticationFailed{Reason: reason}})
}
