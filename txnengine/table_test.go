// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package txnengine_test

import (
	"testing"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/txnengine"
	"github.com/rina-project/ipcmd/types"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/gomega"
)

func testLog() *base.LogObject {
	return base.NewSourceLogObject(logrus.New(), "txnengine_test", 0)
}

func TestBeginCompleteResolvesPromise(t *testing.T) {
	g := NewWithT(t)
	tbl := txnengine.New(testLog())

	id, promise := tbl.Begin(types.TxnAssign, 1, "originator", "echo", time.Time{})
	g.Expect(id).To(BeNumerically(">", 0))
	g.Expect(tbl.Len()).To(Equal(1))

	kind, ipcpID, originator, reqEcho, ok := tbl.Lookup(id)
	g.Expect(ok).To(BeTrue())
	g.Expect(kind).To(Equal(types.TxnAssign))
	g.Expect(ipcpID).To(Equal(1))
	g.Expect(originator).To(Equal("originator"))
	g.Expect(reqEcho).To(Equal("echo"))

	g.Expect(tbl.Complete(id, "payload", nil)).To(Succeed())
	g.Expect(tbl.Len()).To(Equal(0))

	result := promise.Wait()
	g.Expect(result.Status).To(Equal(types.StatusCompleted))
	g.Expect(result.Payload).To(Equal("payload"))
	g.Expect(result.Err).ToNot(HaveOccurred())

	_, _, _, _, ok = tbl.Lookup(id)
	g.Expect(ok).To(BeFalse())
}

func TestCompleteTwiceIsAlreadyFinalised(t *testing.T) {
	g := NewWithT(t)
	tbl := txnengine.New(testLog())

	id, _ := tbl.Begin(types.TxnRegister, 1, nil, nil, time.Time{})
	g.Expect(tbl.Complete(id, nil, nil)).To(Succeed())

	err := tbl.Complete(id, nil, nil)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err).To(BeAssignableToTypeOf(&types.AlreadyFinalised{}))
}

func TestAbortUnknownIsAlreadyFinalised(t *testing.T) {
	g := NewWithT(t)
	tbl := txnengine.New(testLog())
	err := tbl.Abort(999, nil)
	g.Expect(err).To(BeAssignableToTypeOf(&types.AlreadyFinalised{}))
}

func TestCancelAllForIPCP(t *testing.T) {
	g := NewWithT(t)
	tbl := txnengine.New(testLog())

	id1, p1 := tbl.Begin(types.TxnAllocate, 7, nil, nil, time.Time{})
	id2, p2 := tbl.Begin(types.TxnDeallocate, 7, nil, nil, time.Time{})
	id3, p3 := tbl.Begin(types.TxnAllocate, 8, nil, nil, time.Time{})

	tbl.CancelAllFor(7)

	g.Expect(p1.Wait().Status).To(Equal(types.StatusAborted))
	g.Expect(p2.Wait().Status).To(Equal(types.StatusAborted))
	g.Expect(tbl.Len()).To(Equal(1))

	_ = id1
	_ = id2

	g.Expect(tbl.Complete(id3, "ok", nil)).To(Succeed())
	g.Expect(p3.Wait().Payload).To(Equal("ok"))
}

func TestExpireDeadlinesAborts(t *testing.T) {
	g := NewWithT(t)
	tbl := txnengine.New(testLog())

	past := time.Now().Add(-time.Second)
	future := time.Now().Add(time.Hour)

	_, expiredPromise := tbl.Begin(types.TxnEnroll, 1, nil, nil, past)
	_, livePromise := tbl.Begin(types.TxnEnroll, 2, nil, nil, future)

	n := tbl.ExpireDeadlines(time.Now())
	g.Expect(n).To(Equal(1))
	g.Expect(tbl.Len()).To(Equal(1))

	result := expiredPromise.Wait()
	g.Expect(result.Status).To(Equal(types.StatusAborted))
	g.Expect(result.Err).To(BeAssignableToTypeOf(&types.Timeout{}))

	select {
	case <-time.After(10 * time.Millisecond):
	}
	_ = livePromise
}

func TestTimedWaitTimesOutWithoutResolving(t *testing.T) {
	g := NewWithT(t)
	tbl := txnengine.New(testLog())

	id, promise := tbl.Begin(types.TxnQueryRIB, 1, nil, nil, time.Time{})
	_, ok := promise.TimedWait(20 * time.Millisecond)
	g.Expect(ok).To(BeFalse())
	g.Expect(tbl.Len()).To(Equal(1))

	g.Expect(tbl.Complete(id, "done", nil)).To(Succeed())
	result, ok := promise.TimedWait(time.Second)
	g.Expect(ok).To(BeTrue())
	g.Expect(result.Payload).To(Equal("done"))
}
