// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package kernelif abstracts the daemon's external collaborator: the
// kernel/IPCP worker surface that Commands are issued to and Events
// arrive from. CommandSink is the seam the orchestrator, flow
// allocator and enrollment authenticator issue commands through (the
// mobility manager goes through the orchestrator); a real implementation would marshal onto the
// RINA netlink/syscall surface, a fake one (fake.go) drives unit tests.
package kernelif

import (
	"context"

	"github.com/rina-project/ipcmd/types"
)

// CommandSink issues Commands to the kernel/IPCP worker surface and
// reports whether the underlying transport accepted it for delivery.
// Acceptance is not completion: the corresponding Event (correlated by
// TransactionID) carries the actual result and arrives later on the
// EventSource.
type CommandSink interface {
	Send(ctx context.Context, cmd types.Command) error
}

// EventSource delivers inbound Events. Subscribe registers a
// handler invoked for every event; it must return quickly since it
// runs on the source's own delivery goroutine.
type EventSource interface {
	Subscribe(handler func(types.Event)) error
	Close() error
}
