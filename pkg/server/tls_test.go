package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gematik/zero-gate/pkg/ca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMaterial struct {
	certPEM []byte
	keyPEM  []byte
	leaf    *x509.Certificate
	root    *x509.Certificate
}

// newTestMaterial issues a server certificate for 127.0.0.1 from a fresh
// development CA. certPEM carries the leaf followed by the CA certificate.
func newTestMaterial(t *testing.T) *testMaterial {
	t.Helper()
	authority, err := ca.NewRandomAuthority()
	require.NoError(t, err)
	leaf, key, err := authority.IssueServerCertificate("127.0.0.1", "localhost")
	require.NoError(t, err)
	keyPEM, err := ca.EncodeKeyToPEM(key)
	require.NoError(t, err)

	return &testMaterial{
		certPEM: []byte(ca.EncodeCertToPEM(leaf) + ca.EncodeCertToPEM(authority.IssuerCertificate())),
		keyPEM:  []byte(keyPEM),
		leaf:    leaf,
		root:    authority.IssuerCertificate(),
	}
}

func writeFile(t *testing.T, name string, parts ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	var data []byte
	for _, p := range parts {
		data = append(data, p...)
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadKeyPair(t *testing.T) {
	m := newTestMaterial(t)

	cert, err := LoadKeyPair(writeFile(t, "cert.pem", m.certPEM), writeFile(t, "key.pem", m.keyPEM))
	require.NoError(t, err)
	assert.Len(t, cert.Certificate, 2)
	assert.Equal(t, m.leaf.SerialNumber, cert.Leaf.SerialNumber)

	// certificate and key in one file
	combined := writeFile(t, "combined.pem", m.keyPEM, m.certPEM)
	_, err = LoadKeyPair(combined, combined)
	require.NoError(t, err)
}

func TestLoadKeyPairKeyEncodings(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	sec1, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name  string
		block *pem.Block
		pub   any
	}{
		{"sec1", &pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1}, &ecKey.PublicKey},
		{"pkcs1", &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}, &rsaKey.PublicKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template := &x509.Certificate{
				SerialNumber: big.NewInt(1),
				NotBefore:    time.Now().Add(-time.Hour),
				NotAfter:     time.Now().Add(time.Hour),
			}
			var signer any = ecKey
			if tt.name == "pkcs1" {
				signer = rsaKey
			}
			der, err := x509.CreateCertificate(rand.Reader, template, template, tt.pub, signer)
			require.NoError(t, err)

			path := writeFile(t, "pair.pem",
				pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
				pem.EncodeToMemory(tt.block),
			)
			_, err = LoadKeyPair(path, path)
			assert.NoError(t, err)
		})
	}
}

func TestLoadKeyPairErrors(t *testing.T) {
	m := newTestMaterial(t)
	other := newTestMaterial(t)

	certPath := writeFile(t, "cert.pem", m.certPEM)
	keyPath := writeFile(t, "key.pem", m.keyPEM)

	tests := []struct {
		name     string
		certPath string
		keyPath  string
		want     error
	}{
		{"missing certificate", filepath.Join(t.TempDir(), "missing.pem"), keyPath, ErrCertificateNotFound},
		{"missing key", certPath, filepath.Join(t.TempDir(), "missing.pem"), ErrCertificateNotFound},
		{"key file without key", certPath, writeFile(t, "nokey.pem", m.certPEM), ErrNoPrivateKey},
		{"cert file without certificate", writeFile(t, "nocert.pem", m.keyPEM), keyPath, ErrNoCertificates},
		{"empty files", writeFile(t, "empty.pem"), writeFile(t, "empty.pem"), ErrNoCertificates},
		{"garbage key", certPath, writeFile(t, "garbage.pem", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("garbage")})), ErrMalformedKey},
		{"key of another certificate", certPath, writeFile(t, "other.pem", other.keyPEM), ErrKeyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadKeyPair(tt.certPath, tt.keyPath)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}
