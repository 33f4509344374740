// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package enrollauth

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rina-project/ipcmd/types"
)

// sshrsaOptions mirrors the four repeated-string fields of the
// options object exchanged on the wire: key exchange, encryption, MAC
// and compression algorithm candidates.
type sshrsaOptions struct {
	KeyExchangeAlgs []string
	EncryptionAlgs  []string
	MACAlgs         []string
	CompressionAlgs []string
}

const (
	fieldKeyExchangeAlgs protowire.Number = 1
	fieldEncryptionAlgs  protowire.Number = 2
	fieldMACAlgs         protowire.Number = 3
	fieldCompressionAlgs protowire.Number = 4
)

func encodeSSHRSAOptions(opts sshrsaOptions) []byte {
	var b []byte
	b = appendRepeatedString(b, fieldKeyExchangeAlgs, opts.KeyExchangeAlgs)
	b = appendRepeatedString(b, fieldEncryptionAlgs, opts.EncryptionAlgs)
	b = appendRepeatedString(b, fieldMACAlgs, opts.MACAlgs)
	b = appendRepeatedString(b, fieldCompressionAlgs, opts.CompressionAlgs)
	return b
}

func appendRepeatedString(b []byte, num protowire.Number, vals []string) []byte {
	for _, v := range vals {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

func decodeSSHRSAOptions(b []byte) (sshrsaOptions, error) {
	var opts sshrsaOptions
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return opts, &types.Protocol{Detail: "enrollauth: malformed ssh-rsa options tag"}
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return opts, &types.Protocol{Detail: "enrollauth: unexpected ssh-rsa options wire type"}
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return opts, &types.Protocol{Detail: "enrollauth: malformed ssh-rsa options value"}
		}
		b = b[n:]
		s := string(v)
		switch num {
		case fieldKeyExchangeAlgs:
			opts.KeyExchangeAlgs = append(opts.KeyExchangeAlgs, s)
		case fieldEncryptionAlgs:
			opts.EncryptionAlgs = append(opts.EncryptionAlgs, s)
		case fieldMACAlgs:
			opts.MACAlgs = append(opts.MACAlgs, s)
		case fieldCompressionAlgs:
			opts.CompressionAlgs = append(opts.CompressionAlgs, s)
		}
	}
	return opts, nil
}

// firstOrEmpty returns vals[0], or "" if vals is empty -- the profile
// names at most one candidate per algorithm class in this daemon's
// narrow SSH-RSA scope.
func firstOrEmpty(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// beginSSHRSA builds the options envelope and records the chosen
// algorithms in a new session. The rest of the handshake (RSA
// signature exchange, session-key derivation) is out of scope.
func (a *Authenticator) beginSSHRSA(key types.SecurityContextKey, profile types.AuthProfile) ([]byte, error) {
	opts := sshrsaOptions{
		KeyExchangeAlgs: nonEmpty(profile.KeyExchangeAlgs),
		EncryptionAlgs:  nonEmpty(profile.EncryptionAlgs),
		MACAlgs:         nonEmpty(profile.MACAlgs),
		CompressionAlgs: nonEmpty(profile.CompressionAlgs),
	}
	sc := &types.SecurityContext{
		Key:            key,
		AuthKind:       types.AuthSSHRSA,
		KeyExchangeAlg: firstOrEmpty(opts.KeyExchangeAlgs),
		EncryptionAlg:  firstOrEmpty(opts.EncryptionAlgs),
		MACAlg:         firstOrEmpty(opts.MACAlgs),
		CompressionAlg: firstOrEmpty(opts.CompressionAlgs),
	}
	a.putSession(key, sc)
	a.publishResult(key, Result{Success: true})
	return encodeSSHRSAOptions(opts), nil
}

func nonEmpty(vals []string) []string {
	if len(vals) == 0 {
		return nil
	}
	return []string{vals[0]}
}

// AcceptSSHRSA is the responder side of policy SSH-RSA: decode the
// options envelope attached to an inbound enroll request and record the
// algorithms it names in a new session. Like beginSSHRSA, the session
// is considered negotiated as soon as the envelope is parsed.
func (a *Authenticator) AcceptSSHRSA(key types.SecurityContextKey, body []byte) error {
	opts, err := decodeSSHRSAOptions(body)
	if err != nil {
		a.fail(key, err.Error())
		return err
	}
	sc := &types.SecurityContext{
		Key:            key,
		AuthKind:       types.AuthSSHRSA,
		KeyExchangeAlg: firstOrEmpty(opts.KeyExchangeAlgs),
		EncryptionAlg:  firstOrEmpty(opts.EncryptionAlgs),
		MACAlg:         firstOrEmpty(opts.MACAlgs),
		CompressionAlg: firstOrEmpty(opts.CompressionAlgs),
	}
	a.putSession(key, sc)
	a.publishResult(key, Result{Success: true})
	return nil
}
