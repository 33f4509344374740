// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package types

// DataTransferConstants mirrors the EFCP wire-format parameters every
// DIF agrees on: field widths plus the protocol limits derived from them.
type DataTransferConstants struct {
	AddressLength       int `json:"addressLength,omitempty"`
	CepIDLength         int `json:"cepIdLength,omitempty"`
	PortIDLength        int `json:"portIdLength,omitempty"`
	QosIDLength         int `json:"qosIdLength,omitempty"`
	SequenceNumberLength int `json:"sequenceNumberLength,omitempty"`
	CtrlSequenceNumberLength int `json:"ctrlSequenceNumberLength,omitempty"`
	LengthFieldSize     int `json:"lengthFieldSize,omitempty"`
	RateFieldSize       int `json:"rateFieldSize,omitempty"`
	MaxFrameLength      int `json:"maxFrameLength,omitempty"`
	MaxPDUSize          int `json:"maxPduSize,omitempty"`
	MaxPDULifetimeMs    int `json:"maxPduLifetime,omitempty"`
	DIFIntegrity        bool `json:"difIntegrity,omitempty"`
}

// isZero reports whether every field is at its zero value, used by the
// default-template merge.
func (c DataTransferConstants) isZero() bool {
	return c == DataTransferConstants{}
}

// FlowControlConfig configures EFCP DTCP flow control.
type FlowControlConfig struct {
	WindowBased      bool `json:"windowBased,omitempty"`
	WindowSize       int  `json:"windowSize,omitempty"`
	RateBased        bool `json:"rateBased,omitempty"`
	SendingRate      int  `json:"sendingRate,omitempty"`
	TimePeriodMs     int  `json:"timePeriod,omitempty"`
}

// RetransmissionControlConfig configures EFCP DTCP retransmission control.
type RetransmissionControlConfig struct {
	DataRxMS          int `json:"dataRxmsn,omitempty"`
	InitialATimerMs   int `json:"initialATimer,omitempty"`
	MaxTimeToRetry    int `json:"maxTimeToRetry,omitempty"`
}

// QoSCube is a named, selectable tuple of EFCP DTP/DTCP parameters.
type QoSCube struct {
	ID                   int                           `json:"id"`
	Name                 string                        `json:"name"`
	FlowControl          FlowControlConfig             `json:"flowControl,omitempty"`
	RetransmissionControl RetransmissionControlConfig  `json:"rtxControl,omitempty"`
}

// NamespaceManagerConfig configures address prefixes and any IPCPs
// whose address is statically known ahead of enrollment.
type NamespaceManagerConfig struct {
	AddressPrefixes     map[string]int    `json:"addressPrefixes,omitempty"`
	KnownIPCPAddresses  map[string]int    `json:"knownIPCPAddresses,omitempty"`
}

// isEmpty reports whether the config carries no data, used by the merge.
func (c NamespaceManagerConfig) isEmpty() bool {
	return len(c.AddressPrefixes) == 0 && len(c.KnownIPCPAddresses) == 0
}

// AuthProfile names an authentication / SDU-protection policy plus its
// tunables (password length, cipher, SSH algorithm choices).
type AuthProfile struct {
	Kind             string   `json:"authKind,omitempty"` // "none" | "password" | "ssh-rsa"
	Password         string   `json:"password,omitempty"`
	ChallengeLength  int      `json:"challengeLength,omitempty"`
	CipherName       string   `json:"cipher,omitempty"`
	TimeoutMs        int      `json:"timeoutMs,omitempty"`
	KeyExchangeAlgs  []string `json:"keyExchangeAlgs,omitempty"`
	EncryptionAlgs   []string `json:"encryptionAlgs,omitempty"`
	MACAlgs          []string `json:"macAlgs,omitempty"`
	CompressionAlgs  []string `json:"compressionAlgs,omitempty"`
}

func (p AuthProfile) isEmpty() bool {
	return p.Kind == "" && p.Password == "" && p.ChallengeLength == 0 &&
		p.CipherName == "" && len(p.KeyExchangeAlgs) == 0 &&
		len(p.EncryptionAlgs) == 0 && len(p.MACAlgs) == 0 && len(p.CompressionAlgs) == 0
}

// SecurityManagerConfig bundles a default auth/SDU-protection profile
// with per-supporting-DIF overrides.
type SecurityManagerConfig struct {
	Default   AuthProfile            `json:"default,omitempty"`
	Overrides map[string]AuthProfile `json:"overrides,omitempty"`
}

func (c SecurityManagerConfig) isEmpty() bool {
	return c.Default.isEmpty() && len(c.Overrides) == 0
}

// Resolve returns the auth profile for enrolling through supportingDIF,
// falling back to the configured default when no override matches.
func (c SecurityManagerConfig) Resolve(supportingDIF string) AuthProfile {
	if p, ok := c.Overrides[supportingDIF]; ok {
		return p
	}
	return c.Default
}

// EnrollmentTaskConfig configures enrollment timeouts and retries.
type EnrollmentTaskConfig struct {
	EnrollTimeoutMs int `json:"enrollTimeoutMs,omitempty"`
	MaxRetries      int `json:"maxRetries,omitempty"`
}

// RMTConfig, PFTConfig, FlowAllocatorConfig and RoutingConfig hold the
// opaque-to-the-core per-policy-set parameter bundles; the orchestrator
// passes them through to the kernel/IPCP peer unmodified.
type RMTConfig map[string]string
type PFTConfig map[string]string
type FlowAllocatorConfig map[string]string
type RoutingConfig map[string]string
type ResourceAllocatorConfig map[string]string

// DIFTemplate is a name-keyed bundle of everything assign-to-DIF needs
// to synthesise a DIF configuration for a new IPCP. JSON is the wire
// format it is stored and exchanged in.
type DIFTemplate struct {
	Name                string                  `json:"-"`
	DIFType             string                  `json:"difType,omitempty"`
	DataTransferConstants DataTransferConstants `json:"dataTransferConstants,omitempty"`
	QoSCubes            []QoSCube               `json:"qosCubes,omitempty"`
	EFCPPolicySet       map[string]string       `json:"efcpPolicySet,omitempty"`
	RMT                 RMTConfig               `json:"rmtConfig,omitempty"`
	PFT                 PFTConfig               `json:"pftConfig,omitempty"`
	FlowAllocator       FlowAllocatorConfig     `json:"flowAllocatorConfig,omitempty"`
	Routing             RoutingConfig           `json:"routingConfig,omitempty"`
	ResourceAllocator   ResourceAllocatorConfig `json:"resourceAllocatorConfig,omitempty"`
	NamespaceManager    NamespaceManagerConfig  `json:"namespaceManagerConfig,omitempty"`
	EnrollmentTask      EnrollmentTaskConfig    `json:"enrollmentTaskConfig,omitempty"`
	SecurityManager     SecurityManagerConfig   `json:"securityManagerConfig,omitempty"`
	Parameters          map[string]string       `json:"parameters,omitempty"`
}

// StaticAddress looks up the address a normal IPCP should use, keyed
// by its encoded process name.
func (t *DIFTemplate) StaticAddress(encodedName string) (int, bool) {
	addr, ok := t.NamespaceManager.KnownIPCPAddresses[encodedName]
	return addr, ok
}

// MergeDefault fills every field that is empty/zero in t with the
// corresponding field from def. Named policy sets,
// the QoS cube list, address prefixes/known addresses, the security
// profile and opaque parameters are merged only when entirely absent
// in the child -- this is a whole-field merge, not a deep per-key
// merge, matching "only fills fields that are empty/zero in the child".
func (t *DIFTemplate) MergeDefault(def *DIFTemplate) {
	if def == nil {
		return
	}
	if t.DIFType == "" {
		t.DIFType = def.DIFType
	}
	if t.DataTransferConstants.isZero() {
		t.DataTransferConstants = def.DataTransferConstants
	}
	if len(t.QoSCubes) == 0 {
		t.QoSCubes = def.QoSCubes
	}
	if len(t.EFCPPolicySet) == 0 {
		t.EFCPPolicySet = def.EFCPPolicySet
	}
	if len(t.RMT) == 0 {
		t.RMT = def.RMT
	}
	if len(t.PFT) == 0 {
		t.PFT = def.PFT
	}
	if len(t.FlowAllocator) == 0 {
		t.FlowAllocator = def.FlowAllocator
	}
	if len(t.Routing) == 0 {
		t.Routing = def.Routing
	}
	if len(t.ResourceAllocator) == 0 {
		t.ResourceAllocator = def.ResourceAllocator
	}
	if t.NamespaceManager.isEmpty() {
		t.NamespaceManager = def.NamespaceManager
	}
	if t.EnrollmentTask == (EnrollmentTaskConfig{}) {
		t.EnrollmentTask = def.EnrollmentTask
	}
	if t.SecurityManager.isEmpty() {
		t.SecurityManager = def.SecurityManager
	}
	if len(t.Parameters) == 0 {
		t.Parameters = def.Parameters
	}
}
