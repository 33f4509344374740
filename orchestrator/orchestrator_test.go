// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/diftemplate"
	"github.com/rina-project/ipcmd/kernelif"
	"github.com/rina-project/ipcmd/orchestrator"
	"github.com/rina-project/ipcmd/registry"
	"github.com/rina-project/ipcmd/txnengine"
	"github.com/rina-project/ipcmd/types"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/gomega"
)

type fakeSpawner struct {
	pid int
	err error
}

func (s fakeSpawner) Spawn(types.Naming, types.IPCPType) (int, error) {
	return s.pid, s.err
}

func testLog() *base.LogObject {
	return base.NewSourceLogObject(logrus.New(), "orchestrator_test", 0)
}

type harness struct {
	orch      *orchestrator.Orchestrator
	reg       *registry.Registry
	sink      *kernelif.FakeSink
	templates *diftemplate.Manager
}

func newHarness(t *testing.T, g *WithT, spawner orchestrator.WorkerSpawner) *harness {
	log := testLog()
	reg := registry.New(log)
	txns := txnengine.New(log)
	templates := diftemplate.New(log, t.TempDir())
	sink := kernelif.NewFakeSink(true)
	orch := orchestrator.New(log, reg, txns, templates, sink, spawner)
	g.Expect(sink.Subscribe(orch.HandleEvent)).To(Succeed())
	return &harness{orch: orch, reg: reg, sink: sink, templates: templates}
}

// createReadyIPCP creates an IPCP and simulates both halves of
// readiness: the kernel-side create response (auto-echoed by the fake
// sink) and the unsolicited userspace-initialised event.
func createReadyIPCP(t *testing.T, g *WithT, h *harness, name string, typ types.IPCPType) int {
	promise, err := h.orch.CreateIPCP(context.Background(), types.Naming{ProcessName: name, ProcessInstance: "1"}, typ)
	g.Expect(err).ToNot(HaveOccurred())
	result := promise.Wait()
	g.Expect(result.Err).ToNot(HaveOccurred())
	id := result.Payload.(int)

	h.sink.Deliver(types.Event{Kind: types.EvIPCPDaemonInitialised, IPCPID: id})

	rec, err := h.reg.FindByID(id)
	g.Expect(err).ToNot(HaveOccurred())
	rec.RecordLock.RLock()
	state := rec.State
	rec.RecordLock.RUnlock()
	g.Expect(state).To(Equal(types.IPCPStateInitialized))
	return id
}

func TestCreateIPCPSucceeds(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})

	promise, err := h.orch.CreateIPCP(context.Background(), types.Naming{ProcessName: "a", ProcessInstance: "1"}, types.IPCPTypeNormal)
	g.Expect(err).ToNot(HaveOccurred())

	result := promise.Wait()
	g.Expect(result.Err).ToNot(HaveOccurred())
	id := result.Payload.(int)

	rec, err := h.reg.FindByID(id)
	g.Expect(err).ToNot(HaveOccurred())
	rec.RecordLock.RLock()
	defer rec.RecordLock.RUnlock()
	g.Expect(rec.KernelReady).To(BeTrue())
}

func TestCreateIPCPRejectsUnsupportedType(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})
	_, err := h.orch.CreateIPCP(context.Background(), types.Naming{ProcessName: "a", ProcessInstance: "1"}, types.IPCPTypeNone)
	g.Expect(err).To(BeAssignableToTypeOf(&types.TypeUnsupported{}))
}

func TestCreateIPCPSpawnFailure(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{err: errors.New("boom")})
	_, err := h.orch.CreateIPCP(context.Background(), types.Naming{ProcessName: "a", ProcessInstance: "1"}, types.IPCPTypeNormal)
	g.Expect(err).To(BeAssignableToTypeOf(&types.WorkerSpawnFailed{}))
}

func TestAssignToDIFLifecycle(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})

	def := &types.DIFTemplate{
		DIFType: "normal",
		NamespaceManager: types.NamespaceManagerConfig{
			KnownIPCPAddresses: map[string]int{"a|1": 42},
		},
	}
	g.Expect(h.templates.Add("normal.dif", def)).To(Succeed())

	id := createReadyIPCP(t, g, h, "a", types.IPCPTypeNormal)

	promise, err := h.orch.AssignToDIF(context.Background(), id, "normal.dif", "dif0")
	g.Expect(err).ToNot(HaveOccurred())
	result := promise.Wait()
	g.Expect(result.Err).ToNot(HaveOccurred())

	rec, err := h.reg.FindByID(id)
	g.Expect(err).ToNot(HaveOccurred())
	rec.RecordLock.RLock()
	defer rec.RecordLock.RUnlock()
	g.Expect(rec.State).To(Equal(types.IPCPStateAssigned))
	g.Expect(rec.DIFName).To(Equal("dif0"))
}

func TestAssignToDIFUnknownTemplateIsTemplateInvalid(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})
	id := createReadyIPCP(t, g, h, "a", types.IPCPTypeNormal)

	_, err := h.orch.AssignToDIF(context.Background(), id, "missing.dif", "dif0")
	g.Expect(err).To(BeAssignableToTypeOf(&types.TemplateInvalid{}))
}

func TestAssignToDIFMissingStaticAddress(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})
	g.Expect(h.templates.Add("normal.dif", &types.DIFTemplate{DIFType: "normal"})).To(Succeed())
	id := createReadyIPCP(t, g, h, "a", types.IPCPTypeNormal)

	_, err := h.orch.AssignToDIF(context.Background(), id, "normal.dif", "dif0")
	g.Expect(err).To(BeAssignableToTypeOf(&types.IPAddrNotAvail{}))
}

func TestDestroyIPCPRemovesRecord(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})
	id := createReadyIPCP(t, g, h, "a", types.IPCPTypeNormal)

	promise, err := h.orch.DestroyIPCP(context.Background(), id)
	g.Expect(err).ToNot(HaveOccurred())
	result := promise.Wait()
	g.Expect(result.Err).ToNot(HaveOccurred())

	_, err = h.reg.FindByID(id)
	g.Expect(err).To(BeAssignableToTypeOf(&types.NotFound{}))
}

func TestRegisterAtDIFTwoStep(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})
	g.Expect(h.templates.Add("normal.dif", &types.DIFTemplate{
		NamespaceManager: types.NamespaceManagerConfig{KnownIPCPAddresses: map[string]int{"n1|1": 1}},
	})).To(Succeed())

	n1ID := createReadyIPCP(t, g, h, "n1", types.IPCPTypeNormal)
	assignPromise, err := h.orch.AssignToDIF(context.Background(), n1ID, "normal.dif", "dif0")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(assignPromise.Wait().Err).ToNot(HaveOccurred())

	appID := createReadyIPCP(t, g, h, "app", types.IPCPTypeNormal)

	promise, err := h.orch.RegisterAtDIF(context.Background(), appID, "dif0")
	g.Expect(err).ToNot(HaveOccurred())

	result, ok := promise.TimedWait(time.Second)
	g.Expect(ok).To(BeTrue())
	g.Expect(result.Err).ToNot(HaveOccurred())

	n1, err := h.reg.FindByID(n1ID)
	g.Expect(err).ToNot(HaveOccurred())
	n1.RecordLock.RLock()
	defer n1.RecordLock.RUnlock()
	g.Expect(n1.RegisteredApps).To(ContainElement("app|1"))
}

func TestRegisterAtDIFUnknownDIF(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})
	id := createReadyIPCP(t, g, h, "app", types.IPCPTypeNormal)
	_, err := h.orch.RegisterAtDIF(context.Background(), id, "no-such-dif")
	g.Expect(err).To(BeAssignableToTypeOf(&types.NoSuchDif{}))
}

// TestEnrollUpdatesNeighbours drives every response by hand (no
// auto-echo) since the enroll response must be delivered only after the
// test has captured its transaction id -- auto-echo would resolve (and
// remove) the transaction before the test could inject the neighbour
// list.
func TestEnrollUpdatesNeighbours(t *testing.T) {
	g := NewWithT(t)
	log := testLog()
	reg := registry.New(log)
	txns := txnengine.New(log)
	templates := diftemplate.New(log, t.TempDir())
	sink := kernelif.NewFakeSink(false)
	orch := orchestrator.New(log, reg, txns, templates, sink, fakeSpawner{pid: 4242})
	g.Expect(sink.Subscribe(orch.HandleEvent)).To(Succeed())

	createPromise, err := orch.CreateIPCP(context.Background(), types.Naming{ProcessName: "a", ProcessInstance: "1"}, types.IPCPTypeNormal)
	g.Expect(err).ToNot(HaveOccurred())
	createCmd := sink.Sent()[0]
	sink.Deliver(types.Event{Kind: types.EvCreateIPCPResponse, TransactionID: createCmd.TransactionID, IPCPID: createCmd.IPCPID, Payload: types.Outcome{}})
	id := createPromise.Wait().Payload.(int)
	sink.Deliver(types.Event{Kind: types.EvIPCPDaemonInitialised, IPCPID: id})

	neighbour := types.Neighbour{Name: "b", SupportingDIF: "shim0", UnderlyingPort: 1}
	promiseCh := make(chan *txnengine.Promise, 1)
	go func() {
		p, err := orch.Enroll(context.Background(), id, "dif0", "shim0", neighbour, nil)
		g.Expect(err).ToNot(HaveOccurred())
		promiseCh <- p
	}()

	var sent types.Command
	g.Eventually(func() bool {
		for _, c := range sink.Sent() {
			if c.Kind == types.CmdEnroll {
				sent = c
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond).Should(BeTrue())

	sink.Deliver(types.Event{
		Kind:          types.EvEnrollResponse,
		TransactionID: sent.TransactionID,
		IPCPID:        id,
		Payload:       types.Outcome{Data: []types.Neighbour{neighbour}},
	})

	promise := <-promiseCh
	result, ok := promise.TimedWait(time.Second)
	g.Expect(ok).To(BeTrue())
	g.Expect(result.Err).ToNot(HaveOccurred())

	rec, err := reg.FindByID(id)
	g.Expect(err).ToNot(HaveOccurred())
	rec.RecordLock.RLock()
	defer rec.RecordLock.RUnlock()
	g.Expect(rec.Neighbours).To(ConsistOf(neighbour))
}

func TestCleanupOnWorkerExitDestroysIPCP(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 4242})
	id := createReadyIPCP(t, g, h, "a", types.IPCPTypeNormal)

	h.orch.CleanupOnWorkerExit(4242)

	g.Eventually(func() error {
		_, err := h.reg.FindByID(id)
		return err
	}, time.Second, 5*time.Millisecond).Should(HaveOccurred())
}
