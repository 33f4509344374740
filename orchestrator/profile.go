// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "github.com/rina-project/ipcmd/types"

// ResolveProfile implements enrollauth.ProfileResolver: it looks up the
// auth kind and profile to run for an inbound handshake message on
// (ipcpID, portID) by finding the neighbour whose N-1 flow owns that
// port, then resolving the assigned DIF's security manager config
// against that neighbour's supporting DIF. The DIF template is looked
// up by the same name as the IPCP's assigned DIF, which is this
// daemon's convention for keeping template and DIF names aligned.
func (o *Orchestrator) ResolveProfile(ipcpID, portID int) (types.AuthKind, types.AuthProfile, error) {
	rec, err := o.reg.FindByID(ipcpID)
	if err != nil {
		return types.AuthNone, types.AuthProfile{}, err
	}

	rec.RecordLock.RLock()
	difName := rec.DIFName
	var supportingDIF string
	var found bool
	for _, n := range rec.Neighbours {
		if n.UnderlyingPort == portID {
			supportingDIF = n.SupportingDIF
			found = true
			break
		}
	}
	rec.RecordLock.RUnlock()
	if !found {
		return types.AuthNone, types.AuthProfile{}, &types.NoSuchFlow{PortID: portID}
	}

	tpl, err := o.templates.Get(difName)
	if err != nil {
		return types.AuthNone, types.AuthProfile{}, err
	}

	profile := tpl.SecurityManager.Resolve(supportingDIF)
	return types.ParseAuthKind(profile.Kind), profile, nil
}
