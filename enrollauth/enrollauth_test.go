// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package enrollauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/enrollauth"
	"github.com/rina-project/ipcmd/kernelif"
	"github.com/rina-project/ipcmd/pubsub"
	"github.com/rina-project/ipcmd/types"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/gomega"
)

func testLog() *base.LogObject {
	return base.NewSourceLogObject(logrus.New(), "enrollauth_test", 0)
}

func newAuth(g *WithT, sink *kernelif.FakeSink) *enrollauth.Authenticator {
	auth := enrollauth.New(testLog(), sink, 1)
	g.Expect(sink.Subscribe(func(ev types.Event) { auth.HandleEvent(context.Background(), ev) })).To(Succeed())
	return auth
}

// waitResult reads the next Change off a Results() subscription, with a
// one-second deadline, and type-asserts its Value to enrollauth.Result.
func waitResult(g *WithT, sub *pubsub.Subscription) enrollauth.Result {
	select {
	case c := <-sub.MsgChan():
		r, ok := c.Value.(enrollauth.Result)
		g.Expect(ok).To(BeTrue(), "expected a Result value, got %T", c.Value)
		return r
	case <-time.After(time.Second):
		g.Fail("timed out waiting for a result")
		return enrollauth.Result{}
	}
}

func TestBeginNoneSucceedsImmediately(t *testing.T) {
	g := NewWithT(t)
	sink := kernelif.NewFakeSink(false)
	auth := newAuth(g, sink)
	sub := auth.Results().Subscribe(func(pubsub.Change) {})

	key := types.SecurityContextKey{LocalIPCPID: 1, PortID: 7}
	body, err := auth.Begin(context.Background(), key, types.AuthNone, types.AuthProfile{})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(body).To(BeNil())

	r := waitResult(g, sub)
	g.Expect(r.Success).To(BeTrue())
	g.Expect(r.Err).ToNot(HaveOccurred())
}

func TestPasswordAuthRoundTrip(t *testing.T) {
	g := NewWithT(t)
	sink := kernelif.NewFakeSink(false)
	requester := newAuth(g, sink)

	// The responder lives on a second IPCP so its Authenticator has its
	// own FakeSink subscription; the two exchange AuthMessage payloads
	// by hand, as the real kernel would forward them between peers.
	responderSink := kernelif.NewFakeSink(false)
	responder := newAuth(g, responderSink)
	responder.SetResolver(fixedResolver{kind: types.AuthPassword, profile: types.AuthProfile{Password: "shared-secret", ChallengeLength: 8}})

	reqSub := requester.Results().Subscribe(func(pubsub.Change) {})

	key := types.SecurityContextKey{LocalIPCPID: 1, PortID: 3}
	profile := types.AuthProfile{Password: "shared-secret", ChallengeLength: 8, TimeoutMs: 1000}
	_, err := requester.Begin(context.Background(), key, types.AuthPassword, profile)
	g.Expect(err).ToNot(HaveOccurred())

	sent := sink.Sent()
	g.Expect(sent).To(HaveLen(1))
	g.Expect(sent[0].Kind).To(Equal(types.CmdForwardedCDAP))
	challengeMsg, ok := sent[0].Payload.(types.AuthMessage)
	g.Expect(ok).To(BeTrue())
	g.Expect(challengeMsg.Class).To(Equal("challenge request"))

	// Deliver the challenge request to the responder as an inbound
	// forwarded-CDAP event; it replies on its own sink.
	responderKey := types.SecurityContextKey{LocalIPCPID: 2, PortID: 3}
	responderSink.Deliver(types.Event{
		Kind:   types.EvForwardedCDAPResponse,
		IPCPID: responderKey.LocalIPCPID,
		Payload: types.AuthMessage{
			PortID: responderKey.PortID,
			Class:  challengeMsg.Class,
			Name:   challengeMsg.Name,
			Value:  challengeMsg.Value,
		},
	})

	replySent := responderSink.Sent()
	g.Expect(replySent).To(HaveLen(1))
	replyMsg, ok := replySent[0].Payload.(types.AuthMessage)
	g.Expect(ok).To(BeTrue())
	g.Expect(replyMsg.Class).To(Equal("challenge reply"))

	// Hand the reply back to the requester.
	sink.Deliver(types.Event{
		Kind:   types.EvForwardedCDAPResponse,
		IPCPID: key.LocalIPCPID,
		Payload: types.AuthMessage{
			PortID: key.PortID,
			Class:  replyMsg.Class,
			Name:   replyMsg.Name,
			Value:  replyMsg.Value,
		},
	})

	r := waitResult(g, reqSub)
	g.Expect(r.Success).To(BeTrue())
	g.Expect(r.Err).ToNot(HaveOccurred())
}

func TestPasswordAuthChallengeMismatchFails(t *testing.T) {
	g := NewWithT(t)
	sink := kernelif.NewFakeSink(false)
	auth := newAuth(g, sink)
	sub := auth.Results().Subscribe(func(pubsub.Change) {})

	key := types.SecurityContextKey{LocalIPCPID: 1, PortID: 9}
	profile := types.AuthProfile{Password: "correct-horse", ChallengeLength: 8, TimeoutMs: 1000}
	_, err := auth.Begin(context.Background(), key, types.AuthPassword, profile)
	g.Expect(err).ToNot(HaveOccurred())

	sink.Deliver(types.Event{
		Kind:   types.EvForwardedCDAPResponse,
		IPCPID: key.LocalIPCPID,
		Payload: types.AuthMessage{
			PortID: key.PortID,
			Class:  "challenge reply",
			Name:   "default_cipher",
			Value:  []byte("not the right answer"),
		},
	})

	r := waitResult(g, sub)
	g.Expect(r.Success).To(BeFalse())
	g.Expect(r.Err).To(HaveOccurred())
}

func TestPasswordAuthTimesOut(t *testing.T) {
	g := NewWithT(t)
	sink := kernelif.NewFakeSink(false)
	auth := newAuth(g, sink)
	sub := auth.Results().Subscribe(func(pubsub.Change) {})

	key := types.SecurityContextKey{LocalIPCPID: 1, PortID: 11}
	profile := types.AuthProfile{Password: "x", ChallengeLength: 4, TimeoutMs: 10}
	_, err := auth.Begin(context.Background(), key, types.AuthPassword, profile)
	g.Expect(err).ToNot(HaveOccurred())

	r := waitResult(g, sub)
	g.Expect(r.Success).To(BeFalse())
	g.Expect(r.Err).To(HaveOccurred())
}

func TestDestroyIsIdempotent(t *testing.T) {
	g := NewWithT(t)
	sink := kernelif.NewFakeSink(false)
	auth := newAuth(g, sink)

	key := types.SecurityContextKey{LocalIPCPID: 1, PortID: 13}
	profile := types.AuthProfile{Password: "x", ChallengeLength: 4, TimeoutMs: 60_000}
	_, err := auth.Begin(context.Background(), key, types.AuthPassword, profile)
	g.Expect(err).ToNot(HaveOccurred())

	auth.Destroy(key)
	auth.Destroy(key)
}

func TestFlowDeallocatedDestroysSession(t *testing.T) {
	g := NewWithT(t)
	sink := kernelif.NewFakeSink(false)
	auth := newAuth(g, sink)

	key := types.SecurityContextKey{LocalIPCPID: 4, PortID: 5}
	profile := types.AuthProfile{Password: "x", ChallengeLength: 4, TimeoutMs: 60_000}
	_, err := auth.Begin(context.Background(), key, types.AuthPassword, profile)
	g.Expect(err).ToNot(HaveOccurred())

	sink.Deliver(types.Event{Kind: types.EvFlowDeallocated, IPCPID: key.LocalIPCPID, Payload: key.PortID})

	// A stray challenge reply after teardown must be ignored rather than
	// resolved against a session that no longer exists.
	sink.Deliver(types.Event{
		Kind:   types.EvForwardedCDAPResponse,
		IPCPID: key.LocalIPCPID,
		Payload: types.AuthMessage{
			PortID: key.PortID,
			Class:  "challenge reply",
			Name:   "default_cipher",
			Value:  []byte("whatever"),
		},
	})
}

func TestSSHRSABeginEncodesOptions(t *testing.T) {
	g := NewWithT(t)
	sink := kernelif.NewFakeSink(false)
	auth := newAuth(g, sink)
	sub := auth.Results().Subscribe(func(pubsub.Change) {})

	key := types.SecurityContextKey{LocalIPCPID: 1, PortID: 21}
	profile := types.AuthProfile{
		KeyExchangeAlgs: []string{"ecdh-sha2"},
		EncryptionAlgs:  []string{"aes256-ctr"},
		MACAlgs:         []string{"hmac-sha2-256"},
		CompressionAlgs: []string{"none"},
	}
	body, err := auth.Begin(context.Background(), key, types.AuthSSHRSA, profile)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(body).ToNot(BeEmpty())

	r := waitResult(g, sub)
	g.Expect(r.Success).To(BeTrue())
}

func TestAcceptSSHRSADecodesPeerOptions(t *testing.T) {
	g := NewWithT(t)
	sink := kernelif.NewFakeSink(false)
	requester := newAuth(g, sink)
	responder := newAuth(g, kernelif.NewFakeSink(false))
	respSub := responder.Results().Subscribe(func(pubsub.Change) {})

	key := types.SecurityContextKey{LocalIPCPID: 1, PortID: 31}
	profile := types.AuthProfile{
		KeyExchangeAlgs: []string{"ecdh-sha2"},
		EncryptionAlgs:  []string{"aes256-ctr"},
		MACAlgs:         []string{"hmac-sha2-256"},
		CompressionAlgs: []string{"none"},
	}
	body, err := requester.Begin(context.Background(), key, types.AuthSSHRSA, profile)
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(responder.AcceptSSHRSA(key, body)).To(Succeed())
	r := waitResult(g, respSub)
	g.Expect(r.Success).To(BeTrue())
}

type fixedResolver struct {
	kind    types.AuthKind
	profile types.AuthProfile
}

func (f fixedResolver) ResolveProfile(ipcpID, portID int) (types.AuthKind, types.AuthProfile, error) {
	return f.kind, f.profile, nil
}
