// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package mobility implements the common envelope of a scripted
// handover: enroll the idle radio into the next attachment, enroll the
// upper-layer IPCPs through it, wait for traffic to migrate, then
// disconnect the old path in reverse order. Every step goes through
// the orchestrator's promise API; a Scenario names the IPCPs and
// neighbours involved but carries no roaming-policy logic of its own,
// so a future scenario-specific variant (OMEC roaming, two-operator
// DMM) can wrap it without touching the sequencing here.
package mobility

import (
	"context"
	"sync"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/orchestrator"
	"github.com/rina-project/ipcmd/types"
)

// DefaultDisconnectWait is how long a handover waits after the new
// path is enrolled before tearing down the old one.
const DefaultDisconnectWait = 5 * time.Second

// InitBackoff bounds the delay between retries of the first step of a
// handover (enrolling the idle shim).
const InitBackoff = 1 * time.Second

// HandoverBackoff bounds the delay between retries of every
// upper-layer enrollment step once the shim side has succeeded.
const HandoverBackoff = 5 * time.Second

// MaxAttempts bounds how many times a single handover step is retried
// before the handover is abandoned. A scenario stays registered and
// the next media report tries again from scratch.
const MaxAttempts = 3

// Scenario is a configured handover script for one roaming path.
// ShimIPCPID/IdleShimIPCPID name the two radios whose roles this
// manager swaps on every successful handover.
type Scenario struct {
	Name string

	// ReportingShimID is the IPCP whose media reports drive this
	// scenario. It stays fixed across handovers even though ShimIPCPID
	// and IdleShimIPCPID swap roles, since the radio doing the scanning
	// is a property of the deployment's antenna wiring, not of which
	// radio currently carries the active flow.
	ReportingShimID int

	ShimIPCPID       int
	IdleShimIPCPID   int
	OldShimNeighbour string

	UpperMobileIPCPID        int
	UpperMobileDIFName       string
	UpperMobileNeighbourName string
	OldUpperNeighbour        string

	// InternetIPCPID is 0 for a scenario that does not also hop the
	// provider-facing DIF.
	InternetIPCPID        int
	InternetDIFName       string
	InternetNeighbourName string
	OldInternetNeighbour  string

	Attachments    []types.Attachment
	DisconnectWait time.Duration

	cursor int
}

func (s *Scenario) nextAttachment() types.Attachment {
	a := s.Attachments[s.cursor%len(s.Attachments)]
	s.cursor++
	return a
}

func (s *Scenario) disconnectWait() time.Duration {
	if s.DisconnectWait <= 0 {
		return DefaultDisconnectWait
	}
	return s.DisconnectWait
}

// Manager runs scripted handovers triggered by media reports.
type Manager struct {
	log  *base.LogObject
	orch *orchestrator.Orchestrator

	mu        sync.Mutex
	scenarios map[int]*Scenario // keyed by Scenario.ReportingShimID
}

// New creates an empty Manager.
func New(log *base.LogObject, orch *orchestrator.Orchestrator) *Manager {
	return &Manager{
		log:       log,
		orch:      orch,
		scenarios: make(map[int]*Scenario),
	}
}

// RegisterScenario arms a handover script, keyed by the wireless shim
// IPCP whose media reports trigger it. A zero ReportingShimID defaults
// to ShimIPCPID, the common case where the initially-active radio is
// also the one that scans.
func (m *Manager) RegisterScenario(s *Scenario) {
	if s.ReportingShimID == 0 {
		s.ReportingShimID = s.ShimIPCPID
	}
	m.mu.Lock()
	m.scenarios[s.ReportingShimID] = s
	m.mu.Unlock()
}

// HandleEvent is the dispatcher-loop entry point. A handover runs on
// its own goroutine since it spans multiple promise round trips and a
// multi-second disconnect wait; concurrent handovers are still
// serialised through the manager's own lock, matching the scripted
// handover's single-sequence-at-a-time requirement.
func (m *Manager) HandleEvent(ctx context.Context, ev types.Event) {
	if ev.Kind != types.EvMediaReport {
		return
	}
	report, ok := ev.Payload.(types.MediaReport)
	if !ok {
		m.log.Warnf("mobility: malformed media report payload on ipcp %d", ev.IPCPID)
		return
	}
	go m.runHandover(ctx, report)
}

func (m *Manager) runHandover(ctx context.Context, report types.MediaReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scenario, ok := m.scenarios[report.ShimIPCPID]
	if !ok {
		m.log.Warnf("mobility: media report from unregistered shim %d dropped", report.ShimIPCPID)
		return
	}
	attachments := report.Attachments
	if len(attachments) == 0 {
		attachments = scenario.Attachments
	}
	if len(attachments) == 0 {
		m.log.Warnf("mobility: no attachment candidates for scenario %q", scenario.Name)
		return
	}
	target := pickNext(scenario, attachments)

	m.log.Noticef("mobility: scenario %q handing over shim %d to dif %q via %q", scenario.Name, scenario.IdleShimIPCPID, target.DIFName, target.BaseStationName)

	if err := m.retryEnroll(ctx, InitBackoff, scenario.IdleShimIPCPID, target.DIFName, target.DIFName,
		types.Neighbour{Name: target.BaseStationName, SupportingDIF: target.DIFName}); err != nil {
		m.log.Errorf("mobility: scenario %q failed enrolling idle shim: %v", scenario.Name, err)
		return
	}

	if err := m.retryEnroll(ctx, HandoverBackoff, scenario.UpperMobileIPCPID, scenario.UpperMobileDIFName, target.DIFName,
		types.Neighbour{Name: scenario.UpperMobileNeighbourName, SupportingDIF: target.DIFName}); err != nil {
		m.log.Errorf("mobility: scenario %q failed enrolling upper mobile ipcp: %v", scenario.Name, err)
		return
	}

	if scenario.InternetIPCPID != 0 {
		if err := m.retryEnroll(ctx, HandoverBackoff, scenario.InternetIPCPID, scenario.InternetDIFName, scenario.UpperMobileDIFName,
			types.Neighbour{Name: scenario.InternetNeighbourName, SupportingDIF: scenario.UpperMobileDIFName}); err != nil {
			m.log.Errorf("mobility: scenario %q failed enrolling internet-layer ipcp: %v", scenario.Name, err)
			return
		}
	}

	select {
	case <-time.After(scenario.disconnectWait()):
	case <-ctx.Done():
		return
	}

	if scenario.InternetIPCPID != 0 && scenario.OldInternetNeighbour != "" {
		m.disconnect(ctx, scenario.InternetIPCPID, scenario.OldInternetNeighbour)
	}
	if scenario.OldUpperNeighbour != "" {
		m.disconnect(ctx, scenario.UpperMobileIPCPID, scenario.OldUpperNeighbour)
	}
	if scenario.OldShimNeighbour != "" {
		m.disconnect(ctx, scenario.ShimIPCPID, scenario.OldShimNeighbour)
	}

	scenario.ShimIPCPID, scenario.IdleShimIPCPID = scenario.IdleShimIPCPID, scenario.ShimIPCPID
	scenario.OldShimNeighbour = target.BaseStationName
	scenario.OldUpperNeighbour = scenario.UpperMobileNeighbourName
	scenario.OldInternetNeighbour = scenario.InternetNeighbourName
	m.log.Noticef("mobility: scenario %q completed handover, active shim now %d", scenario.Name, scenario.ShimIPCPID)
}

func pickNext(scenario *Scenario, attachments []types.Attachment) types.Attachment {
	if len(scenario.Attachments) > 0 {
		return scenario.nextAttachment()
	}
	return attachments[0]
}

// retryEnroll issues an enroll and blocks for its result, retrying up
// to MaxAttempts times with backoff between attempts on either a send
// error or a non-nil transaction outcome.
func (m *Manager) retryEnroll(ctx context.Context, backoff time.Duration, id int, difName, supportingDIF string, neighbour types.Neighbour) error {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		promise, err := m.orch.Enroll(ctx, id, difName, supportingDIF, neighbour, nil)
		if err != nil {
			lastErr = err
			continue
		}
		result, ok := promise.TimedWait(orchestrator.DefaultTimeout)
		if !ok {
			lastErr = &types.Internal{Detail: "enroll response timed out"}
			continue
		}
		if result.Err != nil {
			lastErr = result.Err
			continue
		}
		return nil
	}
	return lastErr
}

func (m *Manager) disconnect(ctx context.Context, id int, neighbourName string) {
	promise, err := m.orch.DisconnectNeighbor(ctx, id, neighbourName)
	if err != nil {
		m.log.Errorf("mobility: disconnect %s from ipcp %d failed: %v", neighbourName, id, err)
		return
	}
	if result, ok := promise.TimedWait(orchestrator.DefaultTimeout); !ok || result.Err != nil {
		m.log.Errorf("mobility: disconnect %s from ipcp %d did not complete cleanly", neighbourName, id)
	}
}
