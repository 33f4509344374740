// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the IPCP registry: the table of every
// IPCP the daemon currently owns, keyed by id, with the lookup indices
// the orchestrator and flow allocator need (by DIF, by registered
// application, by N-1 port, by worker pid). Lock ordering is
// consistent throughout: the registry-wide RWMutex is always taken
// before a record's own RecordLock, never the reverse, to avoid a
// deadlock with a concurrent Destroy. Most lookups release the
// registry lock (through List) before locking records; ExistsByPID
// holds both.
package registry

import (
	"strconv"
	"sync"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/objtonum"
	"github.com/rina-project/ipcmd/types"
)

// Registry owns every live IPCPRecord.
type Registry struct {
	log *base.LogObject
	ids *objtonum.Map

	mu      sync.RWMutex
	records map[int]*types.IPCPRecord
	nextGen uint64
}

type idKey string

func (k idKey) Key() string { return string(k) }

// New creates an empty Registry.
func New(log *base.LogObject) *Registry {
	return &Registry{
		log:     log,
		ids:     objtonum.NewMap(),
		records: make(map[int]*types.IPCPRecord),
	}
}

// Create allocates a new IPCPRecord with a fresh (id, generation) pair
// and inserts it into the registry. naming must not already be
// registered to a live IPCP.
func (r *Registry) Create(naming types.Naming, typ types.IPCPType, id, workerPID int) (*types.IPCPRecord, error) {
	key := idKey(naming.EncodedName())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, _, err := r.ids.Get(key); err == nil {
		return nil, &types.AlreadyExists{Kind: "ipcp", Ref: naming.EncodedName()}
	}
	if _, exists := r.records[id]; exists {
		return nil, &types.AlreadyExists{Kind: "ipcp-id", Ref: naming.EncodedName()}
	}

	r.nextGen++
	gen := r.nextGen
	if err := r.ids.Assign(key, id, false); err != nil {
		return nil, err
	}
	rec := types.NewIPCPRecord(id, gen, naming, typ, workerPID)
	r.records[id] = rec
	r.log.Noticef("registry: created ipcp id=%d gen=%d name=%s", id, gen, naming.EncodedName())
	return rec, nil
}

// Destroy removes an IPCP from the registry. It is idempotent: a
// second Destroy for the same id returns NotFound, which callers treat
// as success.
func (r *Registry) Destroy(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return &types.NotFound{Kind: "ipcp", Ref: strconv.Itoa(id)}
	}
	delete(r.records, id)
	_ = r.ids.Delete(idKey(rec.Naming.EncodedName()), false)
	r.log.Noticef("registry: destroyed ipcp id=%d", id)
	return nil
}

// FindByID returns the live record for id.
func (r *Registry) FindByID(id int) (*types.IPCPRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, &types.NotFound{Kind: "ipcp", Ref: strconv.Itoa(id)}
	}
	return rec, nil
}

// ExistsByPID reports whether any live IPCP is backed by the given
// worker OS process id, used by the process monitor to recognise
// an exit that belongs to this daemon.
func (r *Registry) ExistsByPID(pid int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, rec := range r.records {
		rec.RecordLock.RLock()
		match := rec.WorkerPID == pid
		rec.RecordLock.RUnlock()
		if match {
			return id, true
		}
	}
	return 0, false
}

// List returns every live record. The slice is a snapshot; records
// themselves are still shared and must be locked by the caller before
// reading mutable fields.
func (r *Registry) List() []*types.IPCPRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.IPCPRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// FindByDIF returns every IPCP currently assigned to difName.
func (r *Registry) FindByDIF(difName string) []*types.IPCPRecord {
	var out []*types.IPCPRecord
	for _, rec := range r.List() {
		rec.RecordLock.RLock()
		match := rec.State == types.IPCPStateAssigned && rec.DIFName == difName
		rec.RecordLock.RUnlock()
		if match {
			out = append(out, rec)
		}
	}
	return out
}

// FindPreferredByDIF returns one IPCP assigned to difName, preferring
// an IPCP of type Normal over a shim.
func (r *Registry) FindPreferredByDIF(difName string) (*types.IPCPRecord, error) {
	matches := r.FindByDIF(difName)
	if len(matches) == 0 {
		return nil, &types.NoSuchDif{DIFName: difName}
	}
	for _, rec := range matches {
		rec.RecordLock.RLock()
		typ := rec.Type
		rec.RecordLock.RUnlock()
		if typ == types.IPCPTypeNormal {
			return rec, nil
		}
	}
	return matches[0], nil
}

// FindAnyAssigned returns one assigned IPCP, preferring Normal type,
// for registrations that do not pin a specific DIF.
func (r *Registry) FindAnyAssigned() (*types.IPCPRecord, error) {
	var fallback *types.IPCPRecord
	for _, rec := range r.List() {
		rec.RecordLock.RLock()
		assigned := rec.State == types.IPCPStateAssigned
		typ := rec.Type
		rec.RecordLock.RUnlock()
		if !assigned {
			continue
		}
		if typ == types.IPCPTypeNormal {
			return rec, nil
		}
		if fallback == nil {
			fallback = rec
		}
	}
	if fallback == nil {
		return nil, &types.NotFound{Kind: "assigned-ipcp", Ref: "*"}
	}
	return fallback, nil
}

// FindByRegisteredApp returns the IPCP, if any, through which appName
// is registered to difName.
func (r *Registry) FindByRegisteredApp(appName, difName string) (*types.IPCPRecord, error) {
	for _, rec := range r.List() {
		rec.RecordLock.RLock()
		match := rec.DIFName == difName
		if match {
			match = false
			for _, a := range rec.RegisteredApps {
				if a == appName {
					match = true
					break
				}
			}
		}
		rec.RecordLock.RUnlock()
		if match {
			return rec, nil
		}
	}
	return nil, &types.NotRegistered{AppName: appName, DIFName: difName}
}

// FindByPort returns the IPCP that owns N-1/N flow port-id.
func (r *Registry) FindByPort(portID int) (*types.IPCPRecord, error) {
	for _, rec := range r.List() {
		rec.RecordLock.RLock()
		var match bool
		for _, p := range rec.Flows {
			if p == portID {
				match = true
				break
			}
		}
		rec.RecordLock.RUnlock()
		if match {
			return rec, nil
		}
	}
	return nil, &types.NotFound{Kind: "flow-port", Ref: strconv.Itoa(portID)}
}

// Len reports the number of live IPCPs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
