// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package flowalloc

import (
	"context"

	"github.com/rina-project/ipcmd/types"
)

// HandleEvent is the dispatcher-loop entry point for flow-allocation
// events. Like orchestrator.HandleEvent, it is meant to run on the
// single dispatcher goroutine.
func (a *Allocator) HandleEvent(ctx context.Context, ev types.Event) {
	switch ev.Kind {
	case types.EvRegisterApplicationResponse:
		a.handleRegisterResponse(ev)
	case types.EvUnregisterApplicationResponse:
		a.handleUnregisterResponse(ev)
	case types.EvAllocateFlowResult:
		a.handleAllocateResult(ev)
	case types.EvAllocateFlowRequestArrived:
		a.HandleFlowRequestArrived(ctx, ev)
	case types.EvDeallocateFlowResponse:
		a.handleDeallocateResponse(ev)
	case types.EvFlowDeallocated:
		a.handleFlowDeallocatedUnsolicited(ev)
	default:
		a.log.Tracef("flowalloc: ignoring event kind %s (not ours)", ev.Kind)
	}
}

func (a *Allocator) handleRegisterResponse(ev types.Event) {
	kind, _, originator, _, ok := a.txns.Lookup(ev.TransactionID)
	if !ok {
		a.log.Warnf("flowalloc: register response for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	if kind != types.TxnAppRegister {
		// orchestrator's own N-1 registration, correlated through the
		// same event kind and transaction table; not ours to complete.
		return
	}
	reg, _ := originator.(*types.AppRegistration)
	outcome, _ := ev.Payload.(types.Outcome)

	if outcome.Err == nil {
		a.mu.Lock()
		a.apps[reg.EncodedName] = reg
		a.mu.Unlock()
		if a.tracker != nil && reg.ProcessID != 0 {
			a.tracker.Track(reg.ProcessID)
		}
	}
	a.notify.Publish(reg.EncodedName, Notification{Kind: NotifyRegistered, PortID: -1, Err: outcome.Err})
	_ = a.txns.Complete(ev.TransactionID, nil, outcome.Err)
}

func (a *Allocator) handleUnregisterResponse(ev types.Event) {
	kind, _, originator, _, ok := a.txns.Lookup(ev.TransactionID)
	if !ok {
		a.log.Warnf("flowalloc: unregister response for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	if kind != types.TxnAppUnregister {
		// orchestrator's own N-1 unregistration; not ours to complete.
		return
	}
	encoded, _ := originator.(string)
	outcome, _ := ev.Payload.(types.Outcome)

	if outcome.Err == nil {
		a.mu.Lock()
		reg, found := a.apps[encoded]
		delete(a.apps, encoded)
		a.mu.Unlock()
		if found && a.tracker != nil && reg.ProcessID != 0 {
			a.tracker.Untrack(reg.ProcessID)
		}
	}
	a.notify.Publish(encoded, Notification{Kind: NotifyUnregistered, PortID: -1, Err: outcome.Err})
	_ = a.txns.Complete(ev.TransactionID, nil, outcome.Err)
}

func (a *Allocator) handleAllocateResult(ev types.Event) {
	_, _, originator, _, ok := a.txns.Lookup(ev.TransactionID)
	if !ok {
		a.log.Warnf("flowalloc: allocate-flow result for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	orig, _ := originator.(allocOriginator)
	outcome, _ := ev.Payload.(types.Outcome)

	if outcome.Err != nil {
		a.notify.Publish(orig.req.LocalApp, Notification{Kind: NotifyFlowAllocated, PortID: -1, Err: outcome.Err})
		_ = a.txns.Complete(ev.TransactionID, -1, outcome.Err)
		return
	}

	fd := types.NewFlowDescriptor(orig.req.PortID, orig.rec.Handle(), orig.req.LocalApp, orig.req.RemoteApp, orig.req.DIFName, orig.req.Spec)
	a.mu.Lock()
	a.flows[orig.req.PortID] = fd
	a.mu.Unlock()
	orig.rec.RecordLock.Lock()
	orig.rec.Flows = append(orig.rec.Flows, orig.req.PortID)
	orig.rec.RecordLock.Unlock()

	a.notify.Publish(orig.req.LocalApp, Notification{Kind: NotifyFlowAllocated, PortID: orig.req.PortID})
	_ = a.txns.Complete(ev.TransactionID, orig.req.PortID, nil)
}

func (a *Allocator) handleDeallocateResponse(ev types.Event) {
	_, _, originator, _, ok := a.txns.Lookup(ev.TransactionID)
	if !ok {
		a.log.Warnf("flowalloc: deallocate response for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	fd, _ := originator.(*types.FlowDescriptor)
	outcome, _ := ev.Payload.(types.Outcome)

	if outcome.Err == nil {
		a.dropFlow(fd)
	}
	a.notify.Publish(fd.LocalApp, Notification{Kind: NotifyFlowDeallocated, PortID: fd.PortID, Err: outcome.Err})
	_ = a.txns.Complete(ev.TransactionID, nil, outcome.Err)
}

// handleFlowDeallocatedUnsolicited is the kernel notifying us that the
// peer tore down its end of a flow this daemon owns.
func (a *Allocator) handleFlowDeallocatedUnsolicited(ev types.Event) {
	portID, ok := ev.Payload.(int)
	if !ok {
		return
	}
	a.mu.RLock()
	fd, found := a.flows[portID]
	a.mu.RUnlock()
	if !found {
		return
	}
	a.dropFlow(fd)
	a.notify.Publish(fd.LocalApp, Notification{Kind: NotifyFlowDeallocated, PortID: portID})
}

func (a *Allocator) dropFlow(fd *types.FlowDescriptor) {
	a.mu.Lock()
	delete(a.flows, fd.PortID)
	a.mu.Unlock()

	rec, err := a.reg.FindByID(fd.OwnerIPCP.ID)
	if err != nil {
		return
	}
	rec.RecordLock.Lock()
	kept := rec.Flows[:0]
	for _, p := range rec.Flows {
		if p != fd.PortID {
			kept = append(kept, p)
		}
	}
	rec.Flows = kept
	rec.RecordLock.Unlock()
}
