// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package kernelif

import (
	"context"
	"fmt"
	"sync"

	"github.com/rina-project/ipcmd/types"
)

// FakeSink is a CommandSink/EventSource used by unit tests and by the
// mobility/orchestrator test suites in place of a real kernel surface.
// Tests program per-command-kind errors with SetError, then inspect
// what was sent via Sent(), mirroring
// conntester.MockConnectivityTester's programmable-error-map idiom.
type FakeSink struct {
	mu       sync.Mutex
	sent     []types.Command
	errors   map[types.CommandKind]error
	handler  func(types.Event)
	autoEcho bool
}

// NewFakeSink creates an empty FakeSink. When autoEcho is true, every
// Send immediately synthesizes a matching response Event delivered to
// the subscribed handler, which is convenient for tests that only care
// about the outcome of the round trip.
func NewFakeSink(autoEcho bool) *FakeSink {
	return &FakeSink{
		errors:   make(map[types.CommandKind]error),
		autoEcho: autoEcho,
	}
}

// SetError : a simulated failure for the next and all subsequent Sends
// of the given command kind. A nil error clears it.
func (f *FakeSink) SetError(kind types.CommandKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errors, kind)
	} else {
		f.errors[kind] = err
	}
}

// Send implements CommandSink.
func (f *FakeSink) Send(ctx context.Context, cmd types.Command) error {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	err := f.errors[cmd.Kind]
	handler := f.handler
	autoEcho := f.autoEcho
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if autoEcho && handler != nil {
		if ev, ok := responseEventFor(cmd); ok {
			handler(ev)
		}
	}
	return nil
}

// Subscribe implements EventSource.
func (f *FakeSink) Subscribe(handler func(types.Event)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handler != nil {
		return fmt.Errorf("kernelif: fake sink already has a subscriber")
	}
	f.handler = handler
	return nil
}

// Close implements EventSource.
func (f *FakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	return nil
}

// Deliver injects an Event directly, for tests that need to drive
// unsolicited events (flow deallocation notices, media reports) rather
// than ones correlated to a Send.
func (f *FakeSink) Deliver(ev types.Event) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// Sent returns every Command passed to Send so far, in order.
func (f *FakeSink) Sent() []types.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Command, len(f.sent))
	copy(out, f.sent)
	return out
}

// responseEventFor reports the Event auto-echoed for cmd, and false for
// command kinds that carry no reply of their own (e.g.
// CmdAllocateFlowResponse, which is itself the reply to a prior
// unsolicited request).
func responseEventFor(cmd types.Command) (types.Event, bool) {
	kindMap := map[types.CommandKind]types.EventKind{
		types.CmdAssignToDIF:           types.EvAssignToDIFResponse,
		types.CmdUpdateDIFConfig:       types.EvUpdateDIFConfigResponse,
		types.CmdRegisterApplication:   types.EvRegisterApplicationResponse,
		types.CmdUnregisterApplication: types.EvUnregisterApplicationResponse,
		types.CmdAllocateFlow:          types.EvAllocateFlowResult,
		types.CmdDeallocateFlow:        types.EvDeallocateFlowResponse,
		types.CmdEnroll:                types.EvEnrollResponse,
		types.CmdDisconnectNeighbour:   types.EvDisconnectNeighbourResponse,
		types.CmdQueryRIB:              types.EvQueryRIBResponse,
		types.CmdSelectPolicySet:       types.EvSelectPolicySetResponse,
		types.CmdSetPolicySetParam:     types.EvSetPolicySetParamResponse,
		types.CmdPluginLoad:            types.EvPluginLoadResponse,
		types.CmdCreateIPCP:            types.EvCreateIPCPResponse,
		types.CmdDestroyIPCP:           types.EvDestroyIPCPResponse,
	}
	kind, ok := kindMap[cmd.Kind]
	if !ok {
		return types.Event{}, false
	}
	return types.Event{
		Kind:          kind,
		TransactionID: cmd.TransactionID,
		IPCPID:        cmd.IPCPID,
		Payload:       types.Outcome{},
	}, true
}
