// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package types_test

import (
	"encoding/json"
	"testing"

	"github.com/rina-project/ipcmd/types"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/gomega"
)

func TestIPCPLifecycle(t *testing.T) {
	g := NewWithT(t)
	rec := types.NewIPCPRecord(1, 0, types.Naming{ProcessName: "a", ProcessInstance: "1"}, types.IPCPTypeNormal, 4242)
	g.Expect(rec.State).To(Equal(types.IPCPStateCreated))

	g.Expect(rec.MarkReady(true)).To(BeFalse())
	g.Expect(rec.MarkReady(false)).To(BeTrue())
	g.Expect(rec.State).To(Equal(types.IPCPStateInitialized))

	g.Expect(rec.BeginAssign()).To(Succeed())
	g.Expect(rec.State).To(Equal(types.IPCPStateAssignInFlight))

	// Assigning twice in a row is rejected.
	g.Expect(rec.BeginAssign()).To(HaveOccurred())

	g.Expect(rec.FinishAssign(true, "dif0")).To(Succeed())
	g.Expect(rec.State).To(Equal(types.IPCPStateAssigned))
	g.Expect(rec.DIFName).To(Equal("dif0"))
}

func TestIPCPAssignFailureReturnsToInitialized(t *testing.T) {
	g := NewWithT(t)
	rec := types.NewIPCPRecord(1, 0, types.Naming{}, types.IPCPTypeNormal, 0)
	rec.MarkReady(true)
	rec.MarkReady(false)
	g.Expect(rec.BeginAssign()).To(Succeed())
	g.Expect(rec.FinishAssign(false, "")).To(Succeed())
	g.Expect(rec.State).To(Equal(types.IPCPStateInitialized))
	g.Expect(rec.DIFName).To(BeEmpty())
}

func TestDIFTemplateMergeDefaultOnlyFillsEmptyFields(t *testing.T) {
	g := NewWithT(t)
	def := &types.DIFTemplate{
		DIFType: "normal",
		DataTransferConstants: types.DataTransferConstants{
			AddressLength: 2,
			MaxPDUSize:    10000,
		},
		QoSCubes: []types.QoSCube{{ID: 1, Name: "unreliable"}},
		SecurityManager: types.SecurityManagerConfig{
			Default: types.AuthProfile{Kind: "none"},
		},
	}
	child := &types.DIFTemplate{
		DIFType: "normal-child", // already set, must not be overwritten
	}
	child.MergeDefault(def)

	g.Expect(child.DIFType).To(Equal("normal-child"))
	g.Expect(child.DataTransferConstants).To(Equal(def.DataTransferConstants))
	g.Expect(child.QoSCubes).To(Equal(def.QoSCubes))
	g.Expect(child.SecurityManager.Default.Kind).To(Equal("none"))
}

func TestDIFTemplateJSONRoundTrip(t *testing.T) {
	g := NewWithT(t)
	orig := types.DIFTemplate{
		DIFType: "normal",
		DataTransferConstants: types.DataTransferConstants{
			AddressLength: 2,
			PortIDLength:  2,
			MaxPDUSize:    10000,
		},
		QoSCubes: []types.QoSCube{
			{ID: 1, Name: "reliable", FlowControl: types.FlowControlConfig{WindowBased: true, WindowSize: 100}},
		},
		NamespaceManager: types.NamespaceManagerConfig{
			KnownIPCPAddresses: map[string]int{"a|1||": 42},
		},
		Parameters: map[string]string{"foo": "bar"},
	}

	raw, err := json.Marshal(orig)
	g.Expect(err).ToNot(HaveOccurred())

	var roundTripped types.DIFTemplate
	g.Expect(json.Unmarshal(raw, &roundTripped)).To(Succeed())

	g.Expect(cmp.Diff(orig, roundTripped)).To(BeEmpty())
}

func TestStaticAddressLookup(t *testing.T) {
	g := NewWithT(t)
	tpl := &types.DIFTemplate{
		NamespaceManager: types.NamespaceManagerConfig{
			KnownIPCPAddresses: map[string]int{"a.1||": 42},
		},
	}
	addr, ok := tpl.StaticAddress("a.1||")
	g.Expect(ok).To(BeTrue())
	g.Expect(addr).To(Equal(42))

	_, ok = tpl.StaticAddress("missing")
	g.Expect(ok).To(BeFalse())
}
