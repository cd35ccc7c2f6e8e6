/*
Copyright 2025 Fiskal Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package signing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seliom/fiskal/internal/apierror"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner(&DemoCredentialStore{})
	require.NoError(t, err)
	return signer
}

func samplePayload() []byte {
	return []byte(`{"document_id":"doc_1","tenant_id":"acme","series":"A","sequence_number":42,"kind":"INVOICE","gross_amount":"123.00","currency":"EUR"}`)
}

func TestSignEmbedsSignatureBlock(t *testing.T) {
	signer := newTestSigner(t)

	signed, hash, err := signer.Sign(samplePayload())
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(signed, &doc))

	block, ok := doc["signature"].(map[string]interface{})
	require.True(t, ok, "signed payload must carry a signature object")
	assert.Equal(t, "ES256", block["alg"])
	assert.Equal(t, hash, block["digest"])
	assert.NotEmpty(t, block["value"])

	// Signing must not touch any other member.
	assert.Equal(t, "doc_1", doc["document_id"])
	assert.Equal(t, "INVOICE", doc["kind"])
	assert.Equal(t, float64(42), doc["sequence_number"])
}

func TestGenerateHashDeterministic(t *testing.T) {
	signer := newTestSigner(t)

	h1, err := signer.GenerateHash(samplePayload())
	require.NoError(t, err)
	h2, err := signer.GenerateHash(samplePayload())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// Key order must not matter: canonical form is the hash input.
	reordered := []byte(`{"currency":"EUR","gross_amount":"123.00","kind":"INVOICE","sequence_number":42,"series":"A","tenant_id":"acme","document_id":"doc_1"}`)
	h3, err := signer.GenerateHash(reordered)
	require.NoError(t, err)
	assert.Equal(t, h1, h3)
}

func TestSignHashMatchesGenerateHash(t *testing.T) {
	signer := newTestSigner(t)

	_, signHash, err := signer.Sign(samplePayload())
	require.NoError(t, err)
	plainHash, err := signer.GenerateHash(samplePayload())
	require.NoError(t, err)
	assert.Equal(t, plainHash, signHash)
}

func TestValidateSignatureFreshlySigned(t *testing.T) {
	signer := newTestSigner(t)

	signed, _, err := signer.Sign(samplePayload())
	require.NoError(t, err)

	valid, err := signer.ValidateSignature(signed)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestValidateSignatureTamperedContent(t *testing.T) {
	signer := newTestSigner(t)

	signed, _, err := signer.Sign(samplePayload())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(signed, &doc))
	doc["gross_amount"] = "999.00"
	tampered, err := json.Marshal(doc)
	require.NoError(t, err)

	valid, err := signer.ValidateSignature(tampered)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateSignatureMalformedBlock(t *testing.T) {
	signer := newTestSigner(t)

	valid, err := signer.ValidateSignature([]byte(`{"document_id":"doc_1","signature":"not-an-object"}`))
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = signer.ValidateSignature([]byte(`{"document_id":"doc_1"}`))
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateSignatureUnreadableInput(t *testing.T) {
	signer := newTestSigner(t)

	_, err := signer.ValidateSignature([]byte(`{{not json`))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestSignRejectsNonObjectPayload(t *testing.T) {
	signer := newTestSigner(t)

	_, _, err := signer.Sign([]byte(`[1,2,3]`))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestFileCredentialStoreMissingFiles(t *testing.T) {
	store := NewFileCredentialStore("/nonexistent/cert.pem", "/nonexistent/key.pem")
	_, err := store.LoadSigningCredential()
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrCredential))

	_, err = NewSigner(store)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrCredential))
}
