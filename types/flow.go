// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package types

// FlowSpec describes the quality of service requested for a flow.
type FlowSpec struct {
	Reliable    bool
	InOrder     bool
	MaxSDUGap   int
	BandwidthKb uint64
	DelayMs     uint32
	JitterMs    uint32
}

// FlowDescriptor is co-owned by exactly one IPCPRecord and the
// transaction that allocated it; it is removed from both on
// deallocation.
type FlowDescriptor struct {
	PortID     int
	FD         int // file descriptor where applicable, -1 if none
	OwnerIPCP  Handle
	LocalApp   string
	RemoteApp  string
	DIFName    string
	Spec       FlowSpec
}

// NewFlowDescriptor builds a descriptor with FD defaulted to -1 (unset).
func NewFlowDescriptor(portID int, owner Handle, local, remote, dif string, spec FlowSpec) *FlowDescriptor {
	return &FlowDescriptor{
		PortID:    portID,
		FD:        -1,
		OwnerIPCP: owner,
		LocalApp:  local,
		RemoteApp: remote,
		DIFName:   dif,
		Spec:      spec,
	}
}
