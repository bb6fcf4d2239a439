// Copyright 2018-2026 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package replication

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/structvalue"
)

func xorEncryptor(_, _ string, cleartext []byte) ([]byte, string, error) {
	out := make([]byte, len(cleartext))
	for i, b := range cleartext {
		out[i] = b ^ 0x5a
	}
	return out, "key-1", nil
}

func xorDecryptor(_, _ string, ciphertext []byte, keyID string) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	for i, b := range ciphertext {
		out[i] = b ^ 0x5a
	}
	_ = keyID
	return out, nil
}

// TestEncryptDecryptRoundTrip checks that an Encryptable property sent
// through encryptOutgoing comes back out identical to the cleartext after
// decryptIncoming reverses it, with every other property left untouched.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	body := encodeTestBody(t, map[string]structvalue.Value{
		"title": "hello",
		"ssn": structvalue.NewDict(map[string]structvalue.Value{
			"@type": "Encryptable",
			"value": "123-45-6789",
		}),
	})

	sent, err := encryptOutgoing("doc1", body, xorEncryptor)
	require.NoError(t, err)
	require.NotEqual(t, body, sent)

	sentVal, err := decodeBody(sent)
	require.NoError(t, err)
	sentDict := sentVal.(*structvalue.Dict)
	_, hasPlain := sentDict.Get("ssn")
	require.False(t, hasPlain)
	enc, hasEnc := sentDict.Get(encryptedPrefix + "ssn")
	require.True(t, hasEnc)
	require.IsType(t, &structvalue.Dict{}, enc)

	received, err := decryptIncoming("doc1", sent, xorDecryptor, false)
	require.NoError(t, err)

	receivedVal, err := decodeBody(received)
	require.NoError(t, err)
	receivedDict := receivedVal.(*structvalue.Dict)
	ssn, ok := receivedDict.Get("ssn")
	require.True(t, ok)
	require.Equal(t, "123-45-6789", ssn)
	title, _ := receivedDict.Get("title")
	require.Equal(t, "hello", title)
}

// TestEncryptOutgoingMissingEncryptor surfaces a protocol error rather than
// shipping the Encryptable property's cleartext verbatim.
func TestEncryptOutgoingMissingEncryptor(t *testing.T) {
	body := encodeTestBody(t, map[string]structvalue.Value{
		"secret": structvalue.NewDict(map[string]structvalue.Value{
			"@type": "Encryptable",
			"value": "top secret",
		}),
	})
	_, err := encryptOutgoing("doc1", body, nil)
	require.Error(t, err)
}

// TestDecryptIncomingNoDecryption leaves encrypted$ entries untouched when
// noDecryption is set, for a relay process with no key material.
func TestDecryptIncomingNoDecryption(t *testing.T) {
	body := encodeTestBody(t, map[string]structvalue.Value{
		"title": "hello",
		"ssn": structvalue.NewDict(map[string]structvalue.Value{
			"@type": "Encryptable",
			"value": "123-45-6789",
		}),
	})
	sent, err := encryptOutgoing("doc1", body, xorEncryptor)
	require.NoError(t, err)

	out, err := decryptIncoming("doc1", sent, nil, true)
	require.NoError(t, err)
	require.Equal(t, sent, out)
}

// TestDecryptIncomingMissingDecryptor surfaces a protocol error rather than
// silently leaving ciphertext in place when noDecryption isn't set.
func TestDecryptIncomingMissingDecryptor(t *testing.T) {
	body := encodeTestBody(t, map[string]structvalue.Value{
		"ssn": structvalue.NewDict(map[string]structvalue.Value{
			"@type": "Encryptable",
			"value": "123-45-6789",
		}),
	})
	sent, err := encryptOutgoing("doc1", body, xorEncryptor)
	require.NoError(t, err)

	_, err = decryptIncoming("doc1", sent, nil, false)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "Decryptor"))
}
