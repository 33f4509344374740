// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package flowalloc

import (
	"context"

	"github.com/rina-project/ipcmd/utils"
)

// CleanupIPCP implements orchestrator.Cleaner: it drops every flow and
// application registration this allocator was serving through ipcpID,
// before the orchestrator issues the kernel-side destroy. No kernel
// round trip is made for the flows/registrations themselves since the
// owning IPCP is already on its way out.
func (a *Allocator) CleanupIPCP(ipcpID int) {
	rec, err := a.reg.FindByID(ipcpID)
	var difName string
	if err == nil {
		rec.RecordLock.RLock()
		difName = rec.DIFName
		rec.RecordLock.RUnlock()
	}

	a.mu.Lock()
	var deadFlows []string
	for portID, fd := range a.flows {
		if fd.OwnerIPCP.ID != ipcpID {
			continue
		}
		deadFlows = append(deadFlows, fd.LocalApp)
		delete(a.flows, portID)
	}
	var deadApps []string
	if difName != "" {
		for name, reg := range a.apps {
			if reg.DIFName == difName {
				deadApps = append(deadApps, name)
				delete(a.apps, name)
			}
		}
	}
	a.mu.Unlock()

	for _, app := range deadFlows {
		a.notify.Publish(app, Notification{Kind: NotifyFlowDeallocated, PortID: -1})
	}
	for _, app := range deadApps {
		a.notify.Publish(app, Notification{Kind: NotifyUnregistered, PortID: -1})
	}
}

// CleanupOnWorkerExit implements procmon.ExitHandler: it lets one
// process monitor watch both IPCP worker pids and application pids by
// giving application-pid exits the same entry point the monitor
// already calls for worker exits. A pid it does not recognise as an
// application is simply a no-op here, the same way
// orchestrator.CleanupOnWorkerExit no-ops on a pid it does not
// recognise as a worker.
func (a *Allocator) CleanupOnWorkerExit(pid int) {
	a.CleanupProcess(context.Background(), pid)
}

// CleanupProcess runs the process-exit cleanup scan: every registration
// and flow belonging to pid is torn down synthetically, without
// notifying the now-dead originator.
func (a *Allocator) CleanupProcess(ctx context.Context, pid int) {
	a.mu.RLock()
	var deadApps []string
	for name, reg := range a.apps {
		if reg.ProcessID == pid {
			deadApps = append(deadApps, name)
		}
	}
	var deadPorts []int
	for portID, fd := range a.flows {
		if utils.ContainsString(deadApps, fd.LocalApp) {
			deadPorts = append(deadPorts, portID)
		}
	}
	a.mu.RUnlock()

	for _, portID := range deadPorts {
		a.deallocateInternal(ctx, portID)
	}
	for _, name := range deadApps {
		a.unregisterInternal(ctx, name)
	}
}
