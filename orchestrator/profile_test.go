// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package orchestrator_test

import (
	"testing"

	"github.com/rina-project/ipcmd/types"

	. "github.com/onsi/gomega"
)

func TestResolveProfileUsesSupportingDIFOverride(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 111})
	id := createReadyIPCP(t, g, h, "a", types.IPCPTypeNormal)

	tpl := &types.DIFTemplate{
		DIFType: "normal",
		SecurityManager: types.SecurityManagerConfig{
			Default:   types.AuthProfile{Kind: "none"},
			Overrides: map[string]types.AuthProfile{"shim0": {Kind: "password", Password: "s3cr3t"}},
		},
	}
	g.Expect(h.templates.Add("dif0", tpl)).To(Succeed())

	rec, err := h.reg.FindByID(id)
	g.Expect(err).ToNot(HaveOccurred())
	rec.RecordLock.Lock()
	rec.DIFName = "dif0"
	rec.Neighbours = append(rec.Neighbours, types.Neighbour{Name: "b", SupportingDIF: "shim0", UnderlyingPort: 7})
	rec.RecordLock.Unlock()

	kind, profile, err := h.orch.ResolveProfile(id, 7)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(kind).To(Equal(types.AuthPassword))
	g.Expect(profile.Password).To(Equal("s3cr3t"))
}

func TestResolveProfileUnknownPortFails(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, g, fakeSpawner{pid: 112})
	id := createReadyIPCP(t, g, h, "a", types.IPCPTypeNormal)

	_, _, err := h.orch.ResolveProfile(id, 99)
	g.Expect(err).To(HaveOccurred())
}
