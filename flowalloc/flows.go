// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package flowalloc

import (
	"context"
	"time"

	"github.com/rina-project/ipcmd/txnengine"
	"github.com/rina-project/ipcmd/types"
)

// AllocateRequest is what a CmdAllocateFlow command carries.
type AllocateRequest struct {
	PortID    int
	LocalApp  string
	RemoteApp string
	DIFName   string
	Spec      types.FlowSpec
}

// allocOriginator is the Begin() originator for a local allocation,
// giving the response handler enough to build the FlowDescriptor
// without a second registry lookup.
type allocOriginator struct {
	req AllocateRequest
	rec *types.IPCPRecord
}

// AllocateFlow issues a local flow-allocation request on behalf of
// localApp, which must already be registered. The promise resolves to
// the new port id, or -1 if the peer rejects the flow.
func (a *Allocator) AllocateFlow(ctx context.Context, localApp, remoteApp, difName string, spec types.FlowSpec) (*txnengine.Promise, error) {
	a.mu.RLock()
	reg, ok := a.apps[localApp]
	a.mu.RUnlock()
	if !ok {
		return nil, &types.NotRegistered{AppName: localApp, DIFName: difName}
	}
	if difName == "" {
		difName = reg.DIFName
	}

	rec, err := a.reg.FindPreferredByDIF(difName)
	if err != nil {
		return nil, err
	}

	portID := int(a.portIDs.Next())
	req := AllocateRequest{PortID: portID, LocalApp: localApp, RemoteApp: remoteApp, DIFName: difName, Spec: spec}

	tid, promise := a.txns.Begin(types.TxnAllocate, rec.ID, allocOriginator{req: req, rec: rec}, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdAllocateFlow, TransactionID: tid, IPCPID: rec.ID, Payload: req}
	if err := a.sink.Send(ctx, cmd); err != nil {
		_ = a.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}

// DeallocateFlow tears down the flow on portID.
func (a *Allocator) DeallocateFlow(ctx context.Context, portID int) (*txnengine.Promise, error) {
	a.mu.RLock()
	fd, ok := a.flows[portID]
	a.mu.RUnlock()
	if !ok {
		return nil, &types.NoSuchFlow{PortID: portID}
	}

	rec, err := a.reg.FindByID(fd.OwnerIPCP.ID)
	if err != nil {
		return nil, err
	}

	tid, promise := a.txns.Begin(types.TxnDeallocate, rec.ID, fd, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdDeallocateFlow, TransactionID: tid, IPCPID: rec.ID, Payload: portID}
	if err := a.sink.Send(ctx, cmd); err != nil {
		_ = a.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}

// deallocateInternal issues a deallocate without returning a promise to
// any caller, for synthetic cleanup triggered by a dead process where
// nothing is waiting on the result.
func (a *Allocator) deallocateInternal(ctx context.Context, portID int) {
	a.mu.RLock()
	fd, ok := a.flows[portID]
	a.mu.RUnlock()
	if !ok {
		return
	}
	tid, _ := a.txns.Begin(types.TxnDeallocate, fd.OwnerIPCP.ID, fd, nil, time.Time{})
	cmd := types.Command{Kind: types.CmdDeallocateFlow, TransactionID: tid, IPCPID: fd.OwnerIPCP.ID, Payload: portID}
	if err := a.sink.Send(ctx, cmd); err != nil {
		a.log.Warnf("flowalloc: synthetic deallocate of port %d failed: %v", portID, err)
		_ = a.txns.Abort(tid, err)
	}
}

// unregisterInternal mirrors deallocateInternal for application
// registrations cleaned up synthetically.
func (a *Allocator) unregisterInternal(ctx context.Context, encoded string) {
	a.mu.RLock()
	reg, ok := a.apps[encoded]
	a.mu.RUnlock()
	if !ok {
		return
	}
	ipcp, err := a.reg.FindPreferredByDIF(reg.DIFName)
	if err != nil {
		a.log.Warnf("flowalloc: synthetic unregister of %q: %v", encoded, err)
		return
	}
	tid, _ := a.txns.Begin(types.TxnAppUnregister, ipcp.ID, encoded, nil, time.Time{})
	cmd := types.Command{Kind: types.CmdUnregisterApplication, TransactionID: tid, IPCPID: ipcp.ID, Payload: encoded}
	if err := a.sink.Send(ctx, cmd); err != nil {
		a.log.Warnf("flowalloc: synthetic unregister of %q failed: %v", encoded, err)
		_ = a.txns.Abort(tid, err)
	}
}

// HandleFlowRequestArrived is called for the unsolicited
// EvAllocateFlowRequestArrived event: a remote peer is asking a local
// application to accept an incoming flow. The verdict is relayed back
// via CmdAllocateFlowResponse, which carries no reply of its own.
func (a *Allocator) HandleFlowRequestArrived(ctx context.Context, ev types.Event) {
	req, ok := ev.Payload.(AllocateRequest)
	if !ok {
		a.log.Warnf("flowalloc: malformed allocate-flow-request-arrived payload for ipcp %d", ev.IPCPID)
		return
	}

	accept, acceptorPID := a.acceptor.AcceptFlow(ctx, req.LocalApp, req.RemoteApp, req.DIFName, req.Spec)

	rec, err := a.reg.FindByID(ev.IPCPID)
	if err == nil && accept {
		fd := types.NewFlowDescriptor(req.PortID, rec.Handle(), req.LocalApp, req.RemoteApp, req.DIFName, req.Spec)
		a.mu.Lock()
		a.flows[req.PortID] = fd
		a.mu.Unlock()
		rec.RecordLock.Lock()
		rec.Flows = append(rec.Flows, req.PortID)
		rec.RecordLock.Unlock()
		a.notify.Publish(req.LocalApp, Notification{Kind: NotifyIncomingFlow, PortID: req.PortID})
	}

	resp := struct {
		PortID      int
		Accept      bool
		AcceptorPID int
	}{req.PortID, accept, acceptorPID}
	cmd := types.Command{Kind: types.CmdAllocateFlowResponse, IPCPID: ev.IPCPID, Payload: resp}
	if err := a.sink.Send(ctx, cmd); err != nil {
		a.log.Errorf("flowalloc: failed to relay accept/reject for port %d: %v", req.PortID, err)
	}
}
