// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"

	"github.com/rina-project/ipcmd/txnengine"
	"github.com/rina-project/ipcmd/types"
	"github.com/rina-project/ipcmd/utils"
)

// RegisterAtDIF registers ipcp id with the N-1 IPCP that provides
// difName, then notifies id about its new supporting DIF. The two
// kernel round trips run sequentially on a background goroutine so the
// call itself returns immediately with the outer promise, per the
// task-and-channel pattern used throughout this package.
func (o *Orchestrator) RegisterAtDIF(ctx context.Context, id int, difName string) (*txnengine.Promise, error) {
	rec, err := o.reg.FindByID(id)
	if err != nil {
		return nil, err
	}
	n1, err := o.reg.FindPreferredByDIF(difName)
	if err != nil {
		return nil, err
	}

	return o.runSequential(types.TxnRegister, id, func() (interface{}, error) {
		if _, err := o.sendAndWait(ctx, types.TxnRegister, n1.ID, types.CmdRegisterApplication, rec.Naming.EncodedName()); err != nil {
			return nil, err
		}
		if _, err := o.sendAndWait(ctx, types.TxnRegister, id, types.CmdUpdateDIFConfig, map[string]string{"supporting-dif": difName}); err != nil {
			return nil, err
		}
		n1.RecordLock.Lock()
		n1.RegisteredApps = append(n1.RegisteredApps, rec.Naming.EncodedName())
		n1.RecordLock.Unlock()
		return nil, nil
	}), nil
}

// UnregisterFromDIF mirrors RegisterAtDIF: unregister from the N-1
// IPCP first, then notify id, in the same step order as registration.
func (o *Orchestrator) UnregisterFromDIF(ctx context.Context, id int, difName string) (*txnengine.Promise, error) {
	rec, err := o.reg.FindByID(id)
	if err != nil {
		return nil, err
	}
	n1, err := o.reg.FindPreferredByDIF(difName)
	if err != nil {
		return nil, err
	}
	n1.RecordLock.RLock()
	var registered bool
	for _, a := range n1.RegisteredApps {
		if a == rec.Naming.EncodedName() {
			registered = true
			break
		}
	}
	n1.RecordLock.RUnlock()
	if !registered {
		return nil, &types.NotRegistered{AppName: rec.Naming.EncodedName(), DIFName: difName}
	}

	return o.runSequential(types.TxnUnregister, id, func() (interface{}, error) {
		if _, err := o.sendAndWait(ctx, types.TxnUnregister, n1.ID, types.CmdUnregisterApplication, rec.Naming.EncodedName()); err != nil {
			return nil, err
		}
		if _, err := o.sendAndWait(ctx, types.TxnUnregister, id, types.CmdUpdateDIFConfig, map[string]string{"supporting-dif": ""}); err != nil {
			return nil, err
		}
		n1.RecordLock.Lock()
		n1.RegisteredApps = utils.RemoveString(n1.RegisteredApps, rec.Naming.EncodedName())
		n1.RecordLock.Unlock()
		return nil, nil
	}), nil
}

// runSequential begins an outer transaction that tracks a multi-step
// operation for cancellation purposes (CancelAllFor still reaches it)
// and resolves it from a background goroutine once fn returns.
func (o *Orchestrator) runSequential(kind types.TransactionKind, ipcpID int, fn func() (interface{}, error)) *txnengine.Promise {
	tid, outer := o.txns.Begin(kind, ipcpID, nil, nil, time.Time{})
	go func() {
		payload, err := fn()
		_ = o.txns.Complete(tid, payload, err)
	}()
	return outer
}

// sendAndWait begins an inner transaction, sends the command carrying
// its id, and blocks the calling goroutine until the corresponding
// event resolves it. Must only be called off the dispatcher goroutine.
func (o *Orchestrator) sendAndWait(ctx context.Context, kind types.TransactionKind, ipcpID int, cmdKind types.CommandKind, payload interface{}) (interface{}, error) {
	tid, promise := o.txns.Begin(kind, ipcpID, nil, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: cmdKind, TransactionID: tid, IPCPID: ipcpID, Payload: payload}
	if err := o.sink.Send(ctx, cmd); err != nil {
		_ = o.txns.Abort(tid, err)
		return nil, err
	}
	result := promise.Wait()
	return result.Payload, result.Err
}
