// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package flowalloc implements application registration & flow
// allocation: it maps application names to the DIF/IPCP they are
// registered through, drives local and remote flow-allocation
// handshakes, and cleans up registrations and flows left behind by a
// dead process. It sits beside the orchestrator rather than on
// top of it: both issue commands through the same kernelif.CommandSink
// and transaction table, but flow allocation carries its own
// bookkeeping (application map, flow descriptors) that the orchestrator
// has no need to know about.
package flowalloc

import (
	"context"
	"sync"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/kernelif"
	"github.com/rina-project/ipcmd/objtonum"
	"github.com/rina-project/ipcmd/pubsub"
	"github.com/rina-project/ipcmd/registry"
	"github.com/rina-project/ipcmd/txnengine"
	"github.com/rina-project/ipcmd/types"
)

// FlowAcceptor asks the application owning localApp whether to accept
// an incoming flow request from remoteApp. It is the daemon's only
// hook into application-side accept/reject policy; a real deployment
// would relay this over the registration's NotifyFD.
type FlowAcceptor interface {
	AcceptFlow(ctx context.Context, localApp, remoteApp, difName string, spec types.FlowSpec) (accept bool, acceptorPID int)
}

// AcceptAllAcceptor accepts every incoming flow request. It is the
// default used when no application-side accept policy is wired in.
type AcceptAllAcceptor struct{}

// ProcessTracker is the process monitor's half of application-pid
// liveness: told to watch a pid once an application registers with
// that pid, and to stop once the application unregisters through the
// normal path (a dead process is reported back through CleanupProcess
// instead). Satisfied by *procmon.Monitor via duck typing, the same
// way orchestrator.WorkerTracker is.
type ProcessTracker interface {
	Track(pid int)
	Untrack(pid int)
}

// AcceptFlow implements FlowAcceptor.
func (AcceptAllAcceptor) AcceptFlow(context.Context, string, string, string, types.FlowSpec) (bool, int) {
	return true, 0
}

// NotificationKind tags what happened to an application or a flow it owns.
type NotificationKind uint8

// Notification kinds published on Allocator.Notifications().
const (
	NotifyRegistered NotificationKind = iota
	NotifyUnregistered
	NotifyFlowAllocated
	NotifyFlowDeallocated
	NotifyIncomingFlow
)

// Notification is the value half of a pubsub.Change published to
// Allocator.Notifications(), keyed by the application's encoded name.
type Notification struct {
	Kind   NotificationKind
	PortID int // -1 when not applicable
	Err    error
}

// DefaultTimeout bounds a single kernel round trip issued by the allocator.
const DefaultTimeout = 30 * time.Second

// Allocator tracks application-to-DIF registrations and live flows.
type Allocator struct {
	log      *base.LogObject
	reg      *registry.Registry
	txns     *txnengine.Table
	sink     kernelif.CommandSink
	acceptor FlowAcceptor
	notify   *pubsub.Publication
	tracker  ProcessTracker

	mu      sync.RWMutex
	apps    map[string]*types.AppRegistration
	flows   map[int]*types.FlowDescriptor
	portIDs *objtonum.MonotonicCounter
}

// New creates an Allocator. acceptor may be nil, in which case every
// incoming remote flow request is accepted.
func New(log *base.LogObject, reg *registry.Registry, txns *txnengine.Table, sink kernelif.CommandSink, acceptor FlowAcceptor) *Allocator {
	if acceptor == nil {
		acceptor = AcceptAllAcceptor{}
	}
	return &Allocator{
		log:      log,
		reg:      reg,
		txns:     txns,
		sink:     sink,
		acceptor: acceptor,
		notify:   pubsub.NewPublication(),
		apps:     make(map[string]*types.AppRegistration),
		flows:    make(map[int]*types.FlowDescriptor),
		portIDs:  objtonum.NewMonotonicCounter(1),
	}
}

// SetTracker wires in the process monitor so registered applications'
// pids are watched for liveness. Safe to call with nil to run without
// application-pid polling.
func (a *Allocator) SetTracker(t ProcessTracker) {
	a.tracker = t
}

// Notifications returns the publication applications subscribe to for
// registration and flow lifecycle events.
func (a *Allocator) Notifications() *pubsub.Publication {
	return a.notify
}

// RegisterApplication honours a pinned DIF if given, otherwise selects
// any assigned IPCP (preferring normal type).
func (a *Allocator) RegisterApplication(ctx context.Context, app types.Naming, pinnedDIF string, processID, notifyFD int) (*txnengine.Promise, error) {
	encoded := app.EncodedName()

	a.mu.RLock()
	_, exists := a.apps[encoded]
	a.mu.RUnlock()
	if exists {
		return nil, &types.AlreadyExists{Kind: "application", Ref: encoded}
	}

	var ipcp *types.IPCPRecord
	var err error
	if pinnedDIF != "" {
		ipcp, err = a.reg.FindPreferredByDIF(pinnedDIF)
	} else {
		ipcp, err = a.reg.FindAnyAssigned()
		if err != nil {
			err = &types.NoIPCPAvailable{AppName: encoded}
		}
	}
	if err != nil {
		a.notify.Publish(encoded, Notification{Kind: NotifyRegistered, PortID: -1, Err: err})
		return nil, err
	}

	ipcp.RecordLock.RLock()
	difName := ipcp.DIFName
	ipcpID := ipcp.ID
	ipcp.RecordLock.RUnlock()

	reg := &types.AppRegistration{EncodedName: encoded, DIFName: difName, ProcessID: processID, NotifyFD: notifyFD}
	tid, promise := a.txns.Begin(types.TxnAppRegister, ipcpID, reg, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdRegisterApplication, TransactionID: tid, IPCPID: ipcpID, Payload: encoded}
	if err := a.sink.Send(ctx, cmd); err != nil {
		_ = a.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}

// UnregisterApplication mirrors RegisterApplication: unregister from
// the owning IPCP, then drop the mapping.
func (a *Allocator) UnregisterApplication(ctx context.Context, app types.Naming) (*txnengine.Promise, error) {
	encoded := app.EncodedName()

	a.mu.RLock()
	reg, ok := a.apps[encoded]
	a.mu.RUnlock()
	if !ok {
		return nil, &types.NotRegistered{AppName: encoded, DIFName: ""}
	}

	ipcp, err := a.reg.FindPreferredByDIF(reg.DIFName)
	if err != nil {
		return nil, err
	}

	tid, promise := a.txns.Begin(types.TxnAppUnregister, ipcp.ID, encoded, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdUnregisterApplication, TransactionID: tid, IPCPID: ipcp.ID, Payload: encoded}
	if err := a.sink.Send(ctx, cmd); err != nil {
		_ = a.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}
