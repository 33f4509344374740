// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package procmon implements the OS-process monitor: it tracks pids of
// interest -- the user worker spawned for each live IPCP, and the
// processes of applications currently holding a registration or a flow
// -- and reports when one exits, so the orchestrator and the flow
// allocator can run their respective exit cleanup without the process
// having to check back in. Liveness is polled with a zero-signal
// kill(2) rather than blocking on wait4(2), since these processes are
// not children of this daemon in every deployment (a worker launched
// by an init system, or an application process, is never reaped by
// this daemon).
package procmon

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rina-project/ipcmd/base"
)

// DefaultPollInterval is used when Run is not given an explicit one.
const DefaultPollInterval = 2 * time.Second

// ExitHandler is told about a tracked pid that is no longer alive. It
// is invoked on the monitor's own polling goroutine. A handler that
// does not recognise the pid as its own is expected to no-op, since
// the same Monitor reports both IPCP worker exits and application
// process exits to every registered handler.
type ExitHandler interface {
	CleanupOnWorkerExit(pid int)
}

// Monitor polls a set of tracked pids for liveness.
type Monitor struct {
	log      *base.LogObject
	handlers []ExitHandler

	mu      sync.Mutex
	tracked map[int]struct{}
}

// New creates a Monitor. Every handler receives every pid this Monitor
// observes has exited; a handler untracks itself from the exit by
// ignoring pids it did not ask to watch.
func New(log *base.LogObject, handlers ...ExitHandler) *Monitor {
	return &Monitor{
		log:      log,
		handlers: handlers,
		tracked:  make(map[int]struct{}),
	}
}

// Track adds pid to the poll set. Safe to call for an already-tracked pid.
func (m *Monitor) Track(pid int) {
	m.mu.Lock()
	m.tracked[pid] = struct{}{}
	m.mu.Unlock()
}

// Untrack removes pid from the poll set, for callers that already know
// a worker exited (e.g. a synchronous Wait on a process this daemon
// itself spawned) and want to avoid a redundant report.
func (m *Monitor) Untrack(pid int) {
	m.mu.Lock()
	delete(m.tracked, pid)
	m.mu.Unlock()
}

// Tracked reports whether pid is currently being polled.
func (m *Monitor) Tracked(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[pid]
	return ok
}

// Run polls every tracked pid every interval until ctx is cancelled. A
// pid found dead is untracked and reported to the handler exactly
// once. interval <= 0 selects DefaultPollInterval.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

func (m *Monitor) pollOnce() {
	m.mu.Lock()
	pids := make([]int, 0, len(m.tracked))
	for pid := range m.tracked {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	for _, pid := range pids {
		if alive(pid) {
			continue
		}
		m.Untrack(pid)
		m.log.Noticef("procmon: pid %d no longer alive", pid)
		for _, h := range m.handlers {
			h.CleanupOnWorkerExit(pid)
		}
	}
}

// alive reports whether pid names a live process, using a zero signal
// which the kernel validates without actually delivering anything.
// ESRCH is the only error that unambiguously means the process is
// gone; EPERM still means a live process owned by someone else.
func alive(pid int) bool {
	return unix.Kill(pid, 0) != unix.ESRCH
}
