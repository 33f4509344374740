// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package enrollauth

import (
	"bytes"
	"testing"
)

// TestXorCipherIsItsOwnInverse checks the property the password-auth
// handshake depends on: encrypting then decrypting any non-empty byte
// string under any non-empty key returns the original string, since
// xorCipher is used unmodified for both directions.
func TestXorCipherIsItsOwnInverse(t *testing.T) {
	cases := []struct {
		data []byte
		key  string
	}{
		{[]byte("a"), "k"},
		{[]byte("hello world"), "secret"},
		{[]byte{0x00, 0xff, 0x10, 0x42}, "k"},
		{bytes.Repeat([]byte{0x7a}, 100), "a-much-longer-key-than-the-data-block"},
	}
	for _, c := range cases {
		ciphertext := xorCipher(c.data, c.key)
		plaintext := xorCipher(ciphertext, c.key)
		if !bytes.Equal(plaintext, c.data) {
			t.Fatalf("xorCipher(xorCipher(%q, %q), %q) = %q, want %q", c.data, c.key, c.key, plaintext, c.data)
		}
	}
}

func TestXorCipherEmptyKeyIsIdentity(t *testing.T) {
	data := []byte("unchanged")
	out := xorCipher(data, "")
	if !bytes.Equal(out, data) {
		t.Fatalf("xorCipher with empty key = %q, want %q unchanged", out, data)
	}
}
