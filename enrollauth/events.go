// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package enrollauth

import (
	"context"

	"github.com/rina-project/ipcmd/types"
)

// ProfileResolver looks up the auth profile and policy kind to run when
// responding to an inbound handshake message, since the responder side
// of a session has no Begin call of its own to carry that context.
type ProfileResolver interface {
	ResolveProfile(ipcpID, portID int) (types.AuthKind, types.AuthProfile, error)
}

// SetResolver wires in the profile lookup the orchestrator/dif template
// manager provide. Until set, inbound challenge requests are dropped
// with a warning.
func (a *Authenticator) SetResolver(r ProfileResolver) {
	a.mu.Lock()
	a.resolver = r
	a.mu.Unlock()
}

// HandleEvent reacts to an inbound CDAP auth message or a flow
// deallocation notice. ctx bounds any reply the handshake needs to send.
func (a *Authenticator) HandleEvent(ctx context.Context, ev types.Event) {
	switch ev.Kind {
	case types.EvForwardedCDAPResponse:
		a.handleForwardedCDAP(ctx, ev)
	case types.EvFlowDeallocated:
		a.handleFlowDeallocated(ev)
	default:
		a.log.Tracef("enrollauth: ignoring event kind %s", ev.Kind)
	}
}

func (a *Authenticator) handleForwardedCDAP(ctx context.Context, ev types.Event) {
	msg, ok := ev.Payload.(types.AuthMessage)
	if !ok {
		a.log.Warnf("enrollauth: malformed forwarded-cdap payload on ipcp %d", ev.IPCPID)
		return
	}
	key := types.SecurityContextKey{LocalIPCPID: ev.IPCPID, PortID: msg.PortID}

	switch msg.Class {
	case "challenge request":
		a.mu.Lock()
		resolver := a.resolver
		a.mu.Unlock()
		if resolver == nil {
			a.log.Warnf("enrollauth: no profile resolver wired, dropping challenge request on %s", key.Key())
			return
		}
		_, profile, err := resolver.ResolveProfile(ev.IPCPID, msg.PortID)
		if err != nil {
			a.log.Warnf("enrollauth: profile lookup failed for %s: %v", key.Key(), err)
			return
		}
		if err := a.handleChallengeRequest(ctx, key, profile, msg); err != nil {
			a.log.Errorf("enrollauth: challenge reply failed for %s: %v", key.Key(), err)
		}
	case "challenge reply":
		a.handleChallengeReply(key, msg)
	case "ssh-rsa options":
		if err := a.AcceptSSHRSA(key, msg.Value); err != nil {
			a.log.Errorf("enrollauth: ssh-rsa options rejected for %s: %v", key.Key(), err)
		}
	default:
		a.log.Warnf("enrollauth: unknown auth message class %q on %s", msg.Class, key.Key())
	}
}

func (a *Authenticator) handleFlowDeallocated(ev types.Event) {
	portID, ok := ev.Payload.(int)
	if !ok {
		return
	}
	key := types.SecurityContextKey{LocalIPCPID: ev.IPCPID, PortID: portID}
	a.Destroy(key)
}
