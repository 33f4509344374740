// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package types

// AppRegistration is one entry in the application-to-DIF map: the
// encoded application name ("AP-name|AP-instance", as built by
// Naming.EncodedName; entity name and instance are not part of it) bound to the DIF it is
// registered in, plus the bookkeeping needed for liveness tracking and
// notification.
type AppRegistration struct {
	EncodedName string
	DIFName     string
	ProcessID   int
	NotifyFD    int
}

// Key implements objtonum.ObjKey so registrations can be tracked the
// same way IPCP ids and port ids are.
func (r AppRegistration) Key() string {
	return r.EncodedName
}
