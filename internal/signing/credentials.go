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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/seliom/fiskal/internal/apierror"
)

// Credential is the signing identity loaded once at engine construction and
// treated as immutable, shared, read-only across all workers.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// CredentialStore loads the signing credential from wherever it lives. It
// must fail fast when the credential is absent; the engine never falls back
// silently.
type CredentialStore interface {
	LoadSigningCredential() (*Credential, error)
}

// FileCredentialStore reads a PEM certificate and EC private key from disk.
type FileCredentialStore struct {
	CertFile string
	KeyFile  string
}

func NewFileCredentialStore(certFile, keyFile string) *FileCredentialStore {
	return &FileCredentialStore{CertFile: certFile, KeyFile: keyFile}
}

func (s *FileCredentialStore) LoadSigningCredential() (*Credential, error) {
	certPEM, err := os.ReadFile(s.CertFile)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrCredential, "signing certificate unavailable", errors.Wrap(err, "read certificate"))
	}
	keyPEM, err := os.ReadFile(s.KeyFile)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrCredential, "signing key unavailable", errors.Wrap(err, "read private key"))
	}

	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrCredential, "signing certificate unreadable", err)
	}
	key, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrCredential, "signing key unreadable", err)
	}
	return &Credential{Certificate: cert, PrivateKey: key}, nil
}

func parseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no CERTIFICATE block in PEM data")
	}
	return x509.ParseCertificate(block.Bytes)
}

func parsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no key block in PEM data")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not an ECDSA key")
	}
	return key, nil
}

// DemoCredentialStore generates an ephemeral self-signed credential for
// development and tests. Never enabled in production builds; every load is
// logged loudly.
type DemoCredentialStore struct{}

func (s *DemoCredentialStore) LoadSigningCredential() (*Credential, error) {
	logrus.Warn("SIGNING ENGINE RUNNING WITH EPHEMERAL DEMO CREDENTIAL - NOT FOR PRODUCTION USE")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrCredential, "demo key generation failed", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "fiskal-demo-signer", Organization: []string{"Fiskal Demo"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrCredential, "demo certificate generation failed", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrCredential, "demo certificate unreadable", err)
	}
	return &Credential{Certificate: cert, PrivateKey: key}, nil
}
