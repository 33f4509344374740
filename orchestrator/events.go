// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/rina-project/ipcmd/types"
)

// HandleEvent is the dispatcher-loop entry point: every inbound Event
// is routed here by kind. Response events are matched against the
// transaction table by TransactionID; unsolicited events are matched
// by IPCPID instead.
func (o *Orchestrator) HandleEvent(ev types.Event) {
	switch ev.Kind {
	case types.EvCreateIPCPResponse:
		o.handleCreateIPCPResponse(ev)
	case types.EvDestroyIPCPResponse:
		o.handleDestroyIPCPResponse(ev)
	case types.EvAssignToDIFResponse:
		o.handleAssignToDIFResponse(ev)
	case types.EvEnrollResponse:
		o.handleEnrollResponse(ev)
	case types.EvDisconnectNeighbourResponse:
		o.handleDisconnectResponse(ev)
	case types.EvIPCPDaemonInitialised:
		o.handleDaemonInitialised(ev)
	case types.EvUpdateDIFConfigResponse,
		types.EvRegisterApplicationResponse,
		types.EvUnregisterApplicationResponse,
		types.EvQueryRIBResponse,
		types.EvSelectPolicySetResponse,
		types.EvSetPolicySetParamResponse,
		types.EvPluginLoadResponse:
		o.completeSimple(ev)
	default:
		o.log.Tracef("orchestrator: ignoring event kind %s (not ours)", ev.Kind)
	}
}

// completeSimple resolves a transaction whose response needs no
// registry mutation of its own: the Outcome's Err and Data pass
// through verbatim to the operation's originator.
func (o *Orchestrator) completeSimple(ev types.Event) {
	kind, _, _, _, ok := o.txns.Lookup(ev.TransactionID)
	if !ok {
		o.log.Warnf("orchestrator: %s for unknown transaction %d dropped", ev.Kind, ev.TransactionID)
		return
	}
	if !ownsRegistrationTransaction(ev.Kind, kind) {
		// flowalloc's application registration shares these same two
		// event kinds over the same transaction table for its own N-1
		// registration; leave it for flowalloc.HandleEvent to resolve.
		return
	}
	outcome, _ := ev.Payload.(types.Outcome)
	_ = o.txns.Complete(ev.TransactionID, outcome.Data, outcome.Err)
}

// ownsRegistrationTransaction reports whether a register/unregister
// response belongs to a transaction the orchestrator itself began.
// Every other event kind handled by completeSimple has no counterpart
// elsewhere, so it is always owned.
func ownsRegistrationTransaction(evKind types.EventKind, txnKind types.TransactionKind) bool {
	switch evKind {
	case types.EvRegisterApplicationResponse:
		return txnKind == types.TxnRegister
	case types.EvUnregisterApplicationResponse:
		return txnKind == types.TxnUnregister
	default:
		return true
	}
}

func (o *Orchestrator) handleCreateIPCPResponse(ev types.Event) {
	_, _, originator, _, ok := o.txns.Lookup(ev.TransactionID)
	if !ok {
		o.log.Warnf("orchestrator: create-ipcp response for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	rec, _ := originator.(*types.IPCPRecord)
	outcome, _ := ev.Payload.(types.Outcome)

	if outcome.Err != nil {
		_ = o.reg.Destroy(rec.ID)
		_ = o.txns.Complete(ev.TransactionID, nil, outcome.Err)
		return
	}
	rec.RecordLock.Lock()
	rec.MarkReady(true)
	rec.RecordLock.Unlock()
	_ = o.txns.Complete(ev.TransactionID, rec.ID, nil)
}

// handleDaemonInitialised marks the userspace side of an IPCP ready.
// It is unsolicited and correlated by ipcp id, not transaction id.
func (o *Orchestrator) handleDaemonInitialised(ev types.Event) {
	rec, err := o.reg.FindByID(ev.IPCPID)
	if err != nil {
		o.log.Warnf("orchestrator: daemon-initialised for unknown ipcp %d dropped", ev.IPCPID)
		return
	}
	rec.RecordLock.Lock()
	rec.MarkReady(false)
	rec.RecordLock.Unlock()
}

func (o *Orchestrator) handleDestroyIPCPResponse(ev types.Event) {
	_, ipcpID, originator, _, ok := o.txns.Lookup(ev.TransactionID)
	if !ok {
		o.log.Warnf("orchestrator: destroy-ipcp response for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	outcome, _ := ev.Payload.(types.Outcome)
	if outcome.Err != nil {
		_ = o.txns.Complete(ev.TransactionID, nil, outcome.Err)
		return
	}
	_ = o.reg.Destroy(ipcpID)
	if rec, ok := originator.(*types.IPCPRecord); ok && o.tracker != nil {
		o.tracker.Untrack(rec.WorkerPID)
	}
	_ = o.txns.Complete(ev.TransactionID, nil, nil)
	o.txns.CancelAllFor(ipcpID)
}

func (o *Orchestrator) handleAssignToDIFResponse(ev types.Event) {
	_, _, originator, reqEcho, ok := o.txns.Lookup(ev.TransactionID)
	if !ok {
		o.log.Warnf("orchestrator: assign-to-dif response for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	rec, _ := originator.(*types.IPCPRecord)
	difName, _ := reqEcho.(string)
	outcome, _ := ev.Payload.(types.Outcome)
	success := outcome.Err == nil

	rec.RecordLock.Lock()
	_ = rec.FinishAssign(success, difName)
	rec.RecordLock.Unlock()

	_ = o.txns.Complete(ev.TransactionID, nil, outcome.Err)
}

func (o *Orchestrator) handleEnrollResponse(ev types.Event) {
	_, _, originator, _, ok := o.txns.Lookup(ev.TransactionID)
	if !ok {
		o.log.Warnf("orchestrator: enroll response for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	rec, _ := originator.(*types.IPCPRecord)
	outcome, _ := ev.Payload.(types.Outcome)

	if outcome.Err != nil {
		_ = o.txns.Complete(ev.TransactionID, nil, &types.AuthenticationFailed{Reason: outcome.Err.Error()})
		return
	}
	if neighbours, ok := outcome.Data.([]types.Neighbour); ok {
		rec.RecordLock.Lock()
		rec.Neighbours = neighbours
		rec.RecordLock.Unlock()
	}
	_ = o.txns.Complete(ev.TransactionID, outcome.Data, nil)
}

func (o *Orchestrator) handleDisconnectResponse(ev types.Event) {
	_, _, originator, reqEcho, ok := o.txns.Lookup(ev.TransactionID)
	if !ok {
		o.log.Warnf("orchestrator: disconnect response for unknown transaction %d dropped", ev.TransactionID)
		return
	}
	rec, _ := originator.(*types.IPCPRecord)
	neighbourName, _ := reqEcho.(string)
	outcome, _ := ev.Payload.(types.Outcome)

	if outcome.Err == nil {
		rec.RecordLock.Lock()
		var kept []types.Neighbour
		for _, n := range rec.Neighbours {
			if n.Name != neighbourName {
				kept = append(kept, n)
			}
		}
		rec.Neighbours = kept
		rec.RecordLock.Unlock()
	}
	_ = o.txns.Complete(ev.TransactionID, nil, outcome.Err)
}
