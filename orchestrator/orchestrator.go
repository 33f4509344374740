// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements the IPCP orchestrator: the
// operation layer that turns create/destroy/assign/register/enroll/
// disconnect/query-RIB/update-config/select-policy-set/plugin-load
// into compound, promise-returning operations on top of the
// transaction table and the IPCP registry. Every public operation
// follows the same shape: validate inputs, select the target IPCP,
// begin a transaction, issue a kernel/IPCP command carrying the
// transaction id, and return the promise. The response handler lives
// in events.go and runs on the dispatcher's single goroutine.
package orchestrator

import (
	"context"
	"os/exec"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/diftemplate"
	"github.com/rina-project/ipcmd/kernelif"
	"github.com/rina-project/ipcmd/objtonum"
	"github.com/rina-project/ipcmd/registry"
	"github.com/rina-project/ipcmd/txnengine"
	"github.com/rina-project/ipcmd/types"
)

// WorkerSpawner starts the per-IPCP user-space worker process and
// reports its OS process id.
type WorkerSpawner interface {
	Spawn(naming types.Naming, typ types.IPCPType) (pid int, err error)
}

// OSWorkerSpawner spawns the worker binary named by Path, one process
// per IPCP, passing the encoded name and type as arguments.
type OSWorkerSpawner struct {
	Path string
}

// Spawn implements WorkerSpawner using os/exec.
func (s OSWorkerSpawner) Spawn(naming types.Naming, typ types.IPCPType) (int, error) {
	cmd := exec.Command(s.Path, naming.EncodedName(), typ.String())
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// Cleaner is the hook the process-exit cleanup scan uses to let the
// application registration & flow allocator drop its own state
// for a dying IPCP before the kernel-side destroy is issued.
type Cleaner interface {
	CleanupIPCP(ipcpID int)
}

// WorkerTracker is the process monitor's half of the worker lifecycle:
// told to watch a pid once its IPCP is created, and to stop once the
// IPCP is destroyed through the normal path (an untimely exit is
// reported back through CleanupOnWorkerExit instead).
type WorkerTracker interface {
	Track(pid int)
	Untrack(pid int)
}

// DefaultTimeout is used for operations whose caller does not supply
// an explicit deadline.
const DefaultTimeout = 30 * time.Second

// Orchestrator coordinates IPCP lifecycle: creation, DIF assignment, enrollment and teardown.
type Orchestrator struct {
	log       *base.LogObject
	reg       *registry.Registry
	txns      *txnengine.Table
	templates *diftemplate.Manager
	sink      kernelif.CommandSink
	spawner   WorkerSpawner
	cleaner   Cleaner
	tracker   WorkerTracker
	ipcpIDs   *objtonum.MonotonicCounter
}

// New creates an Orchestrator. cleaner may be nil until the flow allocator is wired in.
func New(log *base.LogObject, reg *registry.Registry, txns *txnengine.Table,
	templates *diftemplate.Manager, sink kernelif.CommandSink, spawner WorkerSpawner) *Orchestrator {
	return &Orchestrator{
		log:       log,
		reg:       reg,
		txns:      txns,
		templates: templates,
		sink:      sink,
		spawner:   spawner,
		ipcpIDs:   objtonum.NewMonotonicCounter(1),
	}
}

// SetCleaner wires in the flow allocator's process-exit cleanup hook.
func (o *Orchestrator) SetCleaner(c Cleaner) {
	o.cleaner = c
}

// SetTracker wires in the process monitor. Safe to call with nil to
// run without worker-liveness polling.
func (o *Orchestrator) SetTracker(t WorkerTracker) {
	o.tracker = t
}

// CreateIPCP spawns a new IPCP's user worker, allocates a registry
// record, and asks the kernel to instantiate the kernel-side state.
// The promise resolves to the new ipcp id.
func (o *Orchestrator) CreateIPCP(ctx context.Context, naming types.Naming, typ types.IPCPType) (*txnengine.Promise, error) {
	if typ == types.IPCPTypeNone {
		return nil, &types.TypeUnsupported{Type: typ.String()}
	}

	pid, err := o.spawner.Spawn(naming, typ)
	if err != nil {
		return nil, &types.WorkerSpawnFailed{Name: naming.EncodedName(), Detail: err.Error()}
	}

	id := int(o.ipcpIDs.Next())
	rec, err := o.reg.Create(naming, typ, id, pid)
	if err != nil {
		return nil, err
	}

	tid, promise := o.txns.Begin(types.TxnIPCPCreate, id, rec, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdCreateIPCP, TransactionID: tid, IPCPID: id, Payload: naming}
	if err := o.sink.Send(ctx, cmd); err != nil {
		_ = o.txns.Abort(tid, err)
		_ = o.reg.Destroy(id)
		return nil, err
	}
	if o.tracker != nil {
		o.tracker.Track(pid)
	}
	return promise, nil
}

// DestroyIPCP asks the kernel to tear down ipcp id's kernel-side state
// and removes it from the registry once that is confirmed.
func (o *Orchestrator) DestroyIPCP(ctx context.Context, id int) (*txnengine.Promise, error) {
	rec, err := o.reg.FindByID(id)
	if err != nil {
		return nil, err
	}
	rec.RecordLock.RLock()
	busy := rec.State == types.IPCPStateAssignInFlight
	rec.RecordLock.RUnlock()
	if busy {
		return nil, &types.WrongState{IPCPID: id, Current: types.IPCPStateAssignInFlight.String(), Expected: "not AssignInFlight"}
	}

	tid, promise := o.txns.Begin(types.TxnIPCPDestroy, id, rec, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdDestroyIPCP, TransactionID: tid, IPCPID: id}
	if err := o.sink.Send(ctx, cmd); err != nil {
		_ = o.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}

// difConfig is what assign-to-DIF sends the kernel: the template's
// policy bundle plus the IPCP's derived address and target DIF name.
type difConfig struct {
	DIFName string
	Address int
	*types.DIFTemplate
}

// AssignToDIF synthesises a DIF configuration from the named template
// and issues the assign command.
func (o *Orchestrator) AssignToDIF(ctx context.Context, id int, templateName, difName string) (*txnengine.Promise, error) {
	rec, err := o.reg.FindByID(id)
	if err != nil {
		return nil, err
	}

	tpl, err := o.templates.Get(templateName)
	if err != nil {
		return nil, &types.TemplateInvalid{Template: templateName, Reason: "template not found"}
	}

	cfg := difConfig{DIFName: difName, DIFTemplate: tpl}
	rec.RecordLock.RLock()
	typ := rec.Type
	encodedName := rec.Naming.EncodedName()
	rec.RecordLock.RUnlock()
	if typ == types.IPCPTypeNormal {
		addr, ok := tpl.StaticAddress(encodedName)
		if !ok {
			return nil, &types.IPAddrNotAvail{IPCPName: encodedName}
		}
		cfg.Address = addr
	}

	rec.RecordLock.Lock()
	beginErr := rec.BeginAssign()
	rec.RecordLock.Unlock()
	if beginErr != nil {
		return nil, beginErr
	}

	tid, promise := o.txns.Begin(types.TxnAssign, id, rec, difName, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdAssignToDIF, TransactionID: tid, IPCPID: id, Payload: cfg}
	if err := o.sink.Send(ctx, cmd); err != nil {
		rec.RecordLock.Lock()
		_ = rec.FinishAssign(false, "")
		rec.RecordLock.Unlock()
		_ = o.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}

// UpdateDIFConfig pushes a live configuration change to an assigned IPCP.
func (o *Orchestrator) UpdateDIFConfig(ctx context.Context, id int, config map[string]string) (*txnengine.Promise, error) {
	rec, err := o.reg.FindByID(id)
	if err != nil {
		return nil, err
	}
	rec.RecordLock.RLock()
	assigned := rec.State == types.IPCPStateAssigned
	rec.RecordLock.RUnlock()
	if !assigned {
		return nil, &types.WrongState{IPCPID: id, Current: rec.State.String(), Expected: types.IPCPStateAssigned.String()}
	}
	return o.issueSimple(ctx, types.TxnAssign, id, types.CmdUpdateDIFConfig, config)
}

// Enroll asks ipcp id to enroll into difName through supportingDIF by
// contacting neighbour, optionally disconnecting from disconnectTarget
// once the new enrollment succeeds (used by mobility handovers).
func (o *Orchestrator) Enroll(ctx context.Context, id int, difName, supportingDIF string, neighbour types.Neighbour, disconnectTarget *string) (*txnengine.Promise, error) {
	rec, err := o.reg.FindByID(id)
	if err != nil {
		return nil, err
	}
	rec.RecordLock.RLock()
	state := rec.State
	rec.RecordLock.RUnlock()
	if state == types.IPCPStateCreated {
		return nil, &types.WrongState{IPCPID: id, Current: state.String(), Expected: "Initialized or later"}
	}

	payload := struct {
		DIFName          string
		SupportingDIF    string
		Neighbour        types.Neighbour
		DisconnectTarget *string
	}{difName, supportingDIF, neighbour, disconnectTarget}

	tid, promise := o.txns.Begin(types.TxnEnroll, id, rec, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdEnroll, TransactionID: tid, IPCPID: id, Payload: payload}
	if err := o.sink.Send(ctx, cmd); err != nil {
		_ = o.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}

// DisconnectNeighbor tears down ipcp id's enrollment with neighbourName.
func (o *Orchestrator) DisconnectNeighbor(ctx context.Context, id int, neighbourName string) (*txnengine.Promise, error) {
	rec, err := o.reg.FindByID(id)
	if err != nil {
		return nil, err
	}
	rec.RecordLock.RLock()
	var found bool
	for _, n := range rec.Neighbours {
		if n.Name == neighbourName {
			found = true
			break
		}
	}
	rec.RecordLock.RUnlock()
	if !found {
		return nil, &types.NoSuchNeighbor{IPCPID: id, Neighbour: neighbourName}
	}

	tid, promise := o.txns.Begin(types.TxnDisconnect, id, rec, neighbourName, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: types.CmdDisconnectNeighbour, TransactionID: tid, IPCPID: id, Payload: neighbourName}
	if err := o.sink.Send(ctx, cmd); err != nil {
		_ = o.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}

// QueryRIB reads a RIB object's textual dump from ipcp id.
func (o *Orchestrator) QueryRIB(ctx context.Context, id int, class, name string) (*txnengine.Promise, error) {
	if _, err := o.reg.FindByID(id); err != nil {
		return nil, err
	}
	payload := struct{ Class, Name string }{class, name}
	return o.issueSimple(ctx, types.TxnQueryRIB, id, types.CmdQueryRIB, payload)
}

// SelectPolicySet chooses the named policy set at RIB path.
func (o *Orchestrator) SelectPolicySet(ctx context.Context, id int, path, name string) (*txnengine.Promise, error) {
	if _, err := o.reg.FindByID(id); err != nil {
		return nil, err
	}
	payload := struct{ Path, Name string }{path, name}
	return o.issueSimple(ctx, types.TxnSelectPolicySet, id, types.CmdSelectPolicySet, payload)
}

// SetPolicySetParam sets a single parameter within the policy set at path.
func (o *Orchestrator) SetPolicySetParam(ctx context.Context, id int, path, name, value string) (*txnengine.Promise, error) {
	if _, err := o.reg.FindByID(id); err != nil {
		return nil, err
	}
	payload := struct{ Path, Name, Value string }{path, name, value}
	return o.issueSimple(ctx, types.TxnSetPolicySetParam, id, types.CmdSetPolicySetParam, payload)
}

// PluginLoad loads or unloads a named plugin on ipcp id.
func (o *Orchestrator) PluginLoad(ctx context.Context, id int, plugin string, load bool) (*txnengine.Promise, error) {
	if _, err := o.reg.FindByID(id); err != nil {
		return nil, err
	}
	payload := struct {
		Plugin string
		Load   bool
	}{plugin, load}
	return o.issueSimple(ctx, types.TxnPluginLoad, id, types.CmdPluginLoad, payload)
}

// issueSimple begins a transaction and sends a single command carrying
// its id, for operations whose response needs no registry mutation
// beyond completing the promise.
func (o *Orchestrator) issueSimple(ctx context.Context, kind types.TransactionKind, id int, cmdKind types.CommandKind, payload interface{}) (*txnengine.Promise, error) {
	tid, promise := o.txns.Begin(kind, id, nil, nil, time.Now().Add(DefaultTimeout))
	cmd := types.Command{Kind: cmdKind, TransactionID: tid, IPCPID: id, Payload: payload}
	if err := o.sink.Send(ctx, cmd); err != nil {
		_ = o.txns.Abort(tid, err)
		return nil, err
	}
	return promise, nil
}

// CleanupOnWorkerExit runs the destroy-on-process-exit scan: it cancels
// every outstanding transaction for the IPCP whose user worker just
// exited, lets the flow allocator drop its own state for that IPCP,
// then issues the kernel-side destroy.
func (o *Orchestrator) CleanupOnWorkerExit(pid int) {
	id, ok := o.reg.ExistsByPID(pid)
	if !ok {
		return
	}
	o.log.Noticef("orchestrator: worker for ipcp %d (pid %d) exited, cleaning up", id, pid)
	o.txns.CancelAllFor(id)
	if o.cleaner != nil {
		o.cleaner.CleanupIPCP(id)
	}

	rec, err := o.reg.FindByID(id)
	if err != nil {
		return
	}
	tid, _ := o.txns.Begin(types.TxnIPCPDestroy, id, rec, nil, time.Time{})
	cmd := types.Command{Kind: types.CmdDestroyIPCP, TransactionID: tid, IPCPID: id}
	if err := o.sink.Send(context.Background(), cmd); err != nil {
		o.log.Errorf("orchestrator: destroy-on-exit send failed for ipcp %d: %v", id, err)
		_ = o.txns.Abort(tid, err)
	}
}
