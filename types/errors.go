// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"time"
)

// NotFound is returned when an id, name or neighbour reference does
// not resolve to anything known to the registry or template manager.
type NotFound struct {
	Kind string // "ipcp", "dif-template", "neighbour", "application", ...
	Ref  string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// WrongState is returned when an operation is issued against a record
// whose lifecycle state does not permit it.
type WrongState struct {
	IPCPID   int
	Current  string
	Expected string
}

func (e *WrongState) Error() string {
	return fmt.Sprintf("ipcp %d: in state %s, expected %s", e.IPCPID, e.Current, e.Expected)
}

// AlreadyExists is returned when a duplicate id or name is used at creation.
type AlreadyExists struct {
	Kind string
	Ref  string
}

func (e *AlreadyExists) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Ref)
}

// TemplateInvalid is returned when a DIF template is missing fields
// required for the IPCP type it is being applied to.
type TemplateInvalid struct {
	Template string
	Reason   string
}

func (e *TemplateInvalid) Error() string {
	return fmt.Sprintf("dif template %q invalid: %s", e.Template, e.Reason)
}

// NoSuchDif is returned when a named DIF cannot be resolved to any IPCP.
type NoSuchDif struct {
	DIFName string
}

func (e *NoSuchDif) Error() string {
	return fmt.Sprintf("no such dif %q", e.DIFName)
}

// NotRegistered is returned when an unregister is issued for an
// application that is not currently registered in the named DIF.
type NotRegistered struct {
	AppName string
	DIFName string
}

func (e *NotRegistered) Error() string {
	return fmt.Sprintf("application %q not registered in dif %q", e.AppName, e.DIFName)
}

// NoSuchNeighbor is returned when a disconnect targets an unknown neighbour.
type NoSuchNeighbor struct {
	IPCPID    int
	Neighbour string
}

func (e *NoSuchNeighbor) Error() string {
	return fmt.Sprintf("ipcp %d: no such neighbour %q", e.IPCPID, e.Neighbour)
}

// Timeout is returned when a transaction's deadline elapses before completion.
type Timeout struct {
	TransactionID uint64
	Deadline      time.Time
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("transaction %d timed out at %s", e.TransactionID, e.Deadline)
}

// Cancelled is returned when a promise is explicitly cancelled.
type Cancelled struct {
	TransactionID uint64
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("transaction %d cancelled", e.TransactionID)
}

// AuthenticationFailed collapses every enrollment authentication error
// for the caller, while the concrete Reason is preserved for logs.
type AuthenticationFailed struct {
	Reason string
}

func (e *AuthenticationFailed) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// Protocol is returned for a malformed payload, unexpected opcode or
// missing object value on the wire.
type Protocol struct {
	Detail string
}

func (e *Protocol) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

// PeerFailure wraps a non-zero result returned by the kernel or an IPCP peer.
type PeerFailure struct {
	Op     string
	Detail string
}

func (e *PeerFailure) Error() string {
	return fmt.Sprintf("%s: peer reported failure: %s", e.Op, e.Detail)
}

// Internal signals an allocation failure or invariant violation in the
// daemon itself, as opposed to a rejection by a peer.
type Internal struct {
	Detail string
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error: %s", e.Detail)
}

// AlreadyFinalised is returned by a second Complete/Abort call against
// the same transaction id.
type AlreadyFinalised struct {
	TransactionID uint64
}

func (e *AlreadyFinalised) Error() string {
	return fmt.Sprintf("transaction %d already finalised", e.TransactionID)
}

// TypeUnsupported is returned when create_ipcp names an IPCP type the
// daemon does not know how to spawn.
type TypeUnsupported struct {
	Type string
}

func (e *TypeUnsupported) Error() string {
	return fmt.Sprintf("ipcp type %q unsupported", e.Type)
}

// WorkerSpawnFailed is returned when the per-IPCP user worker process
// could not be started.
type WorkerSpawnFailed struct {
	Name   string
	Detail string
}

func (e *WorkerSpawnFailed) Error() string {
	return fmt.Sprintf("failed to spawn worker for %q: %s", e.Name, e.Detail)
}

// PluginNotFound is returned by plugin_load/unload for an unknown plugin name.
type PluginNotFound struct {
	Plugin string
}

func (e *PluginNotFound) Error() string {
	return fmt.Sprintf("plugin %q not found", e.Plugin)
}

// UnknownPath is returned by select_policy_set/set_policy_set_param for
// a RIB path the IPCP does not recognise.
type UnknownPath struct {
	Path string
}

func (e *UnknownPath) Error() string {
	return fmt.Sprintf("unknown policy path %q", e.Path)
}

// IPAddrNotAvail is returned when an IPCP's address cannot be derived
// from a DIF template's static address list during assign-to-DIF.
type IPAddrNotAvail struct {
	IPCPName string
}

func (e *IPAddrNotAvail) Error() string {
	return fmt.Sprintf("ipcp %q: no address in dif template's static address list", e.IPCPName)
}

// NoIPCPAvailable is returned when an application registration does not
// pin a DIF and no assigned IPCP exists to register it with.
type NoIPCPAvailable struct {
	AppName string
}

func (e *NoIPCPAvailable) Error() string {
	return fmt.Sprintf("no assigned ipcp available to register application %q", e.AppName)
}

// NoSuchFlow is returned when a flow operation names a port id with no
// live flow descriptor.
type NoSuchFlow struct {
	PortID int
}

func (e *NoSuchFlow) Error() string {
	return fmt.Sprintf("no such flow on port %d", e.PortID)
}
