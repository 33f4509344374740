// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Kernel/IPCP peer command & event surface. The core emits Commands and
// consumes Events identified by Kind plus a correlation TransactionID
// (0 for events that are not replies to any command).

package types

// EventKind enumerates every inbound event kind the core reacts to.
type EventKind uint8

// Event kinds.
const (
	EvAssignToDIFResponse EventKind = iota
	EvUpdateDIFConfigResponse
	EvRegisterApplicationResponse
	EvUnregisterApplicationResponse
	EvAllocateFlowResult
	EvAllocateFlowRequestArrived // unsolicited inbound "allocate-flow-response" request from a peer
	EvDeallocateFlowResponse
	EvFlowDeallocated // unsolicited
	EvEnrollResponse
	EvDisconnectNeighbourResponse
	EvQueryRIBResponse
	EvSelectPolicySetResponse
	EvSetPolicySetParamResponse
	EvPluginLoadResponse
	EvCreateIPCPResponse
	EvDestroyIPCPResponse
	EvIPCPDaemonInitialised // unsolicited, pairs with create-IPCP by ipcp id
	EvForwardedCDAPResponse
	EvMediaReport
)

var eventKindNames = [...]string{
	"assign-to-dif-response",
	"update-dif-config-response",
	"register-application-response",
	"unregister-application-response",
	"allocate-flow-result",
	"allocate-flow-request-arrived",
	"deallocate-flow-response",
	"flow-deallocated",
	"enroll-response",
	"disconnect-neighbour-response",
	"query-rib-response",
	"select-policy-set-response",
	"set-policy-set-param-response",
	"plugin-load-response",
	"create-ipcp-response",
	"destroy-ipcp-response",
	"ipcp-daemon-initialised",
	"forwarded-cdap-response",
	"media-report",
}

// String names the event kind for logs.
func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown-event"
}

// CommandKind enumerates every outbound command kind the core issues.
type CommandKind uint8

// Command kinds.
const (
	CmdAssignToDIF CommandKind = iota
	CmdUpdateDIFConfig
	CmdRegisterApplication
	CmdUnregisterApplication
	CmdAllocateFlow
	CmdAllocateFlowResponse // reply to a remote allocation request, no reply of its own
	CmdDeallocateFlow
	CmdEnroll
	CmdDisconnectNeighbour
	CmdQueryRIB
	CmdSelectPolicySet
	CmdSetPolicySetParam
	CmdPluginLoad
	CmdCreateIPCP
	CmdDestroyIPCP
	CmdForwardedCDAP // outbound auth handshake message, no reply of its own
)

var commandKindNames = [...]string{
	"assign-to-dif",
	"update-dif-config",
	"register-application",
	"unregister-application",
	"allocate-flow",
	"allocate-flow-response",
	"deallocate-flow",
	"enroll",
	"disconnect-neighbour",
	"query-rib",
	"select-policy-set",
	"set-policy-set-param",
	"plugin-load",
	"create-ipcp",
	"destroy-ipcp",
	"forwarded-cdap",
}

// String names the command kind for logs.
func (k CommandKind) String() string {
	if int(k) < len(commandKindNames) {
		return commandKindNames[k]
	}
	return "unknown-command"
}

// Command is what the orchestrator issues to the kernel/IPCP peer surface.
type Command struct {
	Kind          CommandKind
	TransactionID uint64
	IPCPID        int
	Payload       interface{}
}

// Event is what the event source delivers into the dispatcher.
type Event struct {
	Kind          EventKind
	TransactionID uint64 // 0 if unsolicited
	IPCPID        int
	Payload       interface{}
}

// Outcome is the generic success/data/error envelope carried as the
// Payload of every "*Response" event kind: Err nil means the peer
// accepted the command, in which case Data (if any) is the typed
// result the orchestrator hands back to the operation's originator.
type Outcome struct {
	Data interface{}
	Err  error
}
