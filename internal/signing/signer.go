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

// Package signing canonicalizes and cryptographically signs outbound fiscal
// payloads. Canonicalization follows RFC 8785 (JCS); the digest is SHA-256
// over the canonical form with the signature member excluded, so the content
// hash is stable across re-signing and usable for audit comparison.
package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/pkg/errors"

	"github.com/seliom/fiskal/internal/apierror"
)

// signatureKey is the reserved top-level member carrying the signature
// block. Signing touches nothing else in the payload.
const signatureKey = "signature"

const signatureAlg = "ES256"

// SignatureBlock is embedded into the signed payload under "signature".
type SignatureBlock struct {
	Alg        string `json:"alg"`
	Digest     string `json:"digest"`
	Value      string `json:"value"`
	CertSerial string `json:"cert_serial"`
	SignedAt   string `json:"signed_at"`
}

// Signer holds the signing credential for the lifetime of the process.
type Signer struct {
	credential *Credential
}

// NewSigner loads the credential once from the store. A load failure is a
// CREDENTIAL_ERROR and construction fails; the engine never operates
// without a credential.
func NewSigner(store CredentialStore) (*Signer, error) {
	credential, err := store.LoadSigningCredential()
	if err != nil {
		return nil, err
	}
	return &Signer{credential: credential}, nil
}

// Sign canonicalizes payload, digests it, and returns the payload with an
// embedded signature block plus the hex content hash of the canonical form.
func (s *Signer) Sign(payload []byte) ([]byte, string, error) {
	doc, err := decodeObject(payload)
	if err != nil {
		return nil, "", apierror.NewAPIError(apierror.ErrInvalidInput, "payload is not a JSON object", err)
	}
	delete(doc, signatureKey)

	digest, hash, err := digestCanonical(doc)
	if err != nil {
		return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "canonicalization failed", err)
	}

	sig, err := ecdsa.SignASN1(rand.Reader, s.credential.PrivateKey, digest)
	if err != nil {
		return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "signing failed", err)
	}

	doc[signatureKey] = SignatureBlock{
		Alg:        signatureAlg,
		Digest:     hash,
		Value:      base64.StdEncoding.EncodeToString(sig),
		CertSerial: s.credential.Certificate.SerialNumber.String(),
		SignedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	signed, err := json.Marshal(doc)
	if err != nil {
		return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "marshal signed payload", err)
	}
	return signed, hash, nil
}

// GenerateHash returns the hex SHA-256 of the canonical payload form,
// signature member excluded. Deterministic for identical canonical input.
func (s *Signer) GenerateHash(payload []byte) (string, error) {
	doc, err := decodeObject(payload)
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "payload is not a JSON object", err)
	}
	delete(doc, signatureKey)

	_, hash, err := digestCanonical(doc)
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "canonicalization failed", err)
	}
	return hash, nil
}

// ValidateSignature verifies an already-signed payload against its embedded
// digest and signature. A malformed or mismatched signature yields false,
// not an error; only unreadable input errors.
func (s *Signer) ValidateSignature(signed []byte) (bool, error) {
	doc, err := decodeObject(signed)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, "signed payload is not a JSON object", err)
	}

	rawBlock, ok := doc[signatureKey]
	if !ok {
		return false, nil
	}
	block, ok := decodeSignatureBlock(rawBlock)
	if !ok {
		return false, nil
	}
	delete(doc, signatureKey)

	digest, hash, err := digestCanonical(doc)
	if err != nil {
		return false, nil
	}
	if hash != block.Digest {
		return false, nil
	}

	sig, err := base64.StdEncoding.DecodeString(block.Value)
	if err != nil {
		return false, nil
	}
	pub, ok := s.credential.Certificate.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false, errors.New("credential certificate does not carry an ECDSA public key")
	}
	return ecdsa.VerifyASN1(pub, digest, sig), nil
}

// Certificate exposes the loaded certificate for audit surfaces.
func (s *Signer) Certificate() string {
	return s.credential.Certificate.Subject.CommonName
}

func decodeObject(payload []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeSignatureBlock(raw interface{}) (*SignatureBlock, bool) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var block SignatureBlock
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, false
	}
	if block.Alg != signatureAlg || block.Digest == "" || block.Value == "" {
		return nil, false
	}
	return &block, true
}

func digestCanonical(doc map[string]interface{}) ([]byte, string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", err
	}
	digest := sha256.Sum256(canonical)
	return digest[:], hex.EncodeToString(digest[:]), nil
}
