package ca

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/ksuid"
)

const (
	caValidity     = 24 * 30 * 6 * time.Hour
	serverValidity = 24 * 90 * time.Hour
)

// Authority is a throwaway certificate authority for development and tests.
// It issues server certificates for the TLS listener.
type Authority struct {
	Certificate *x509.Certificate
	prk         *ecdsa.PrivateKey
}

func NewRandomAuthority() (*Authority, error) {
	return NewAuthority(pkix.Name{
		CommonName: "zero-gate development CA " + ksuid.New().String(),
	})
}

func NewAuthority(issuer pkix.Name) (*Authority, error) {
	sn, err := serialNumber()
	if err != nil {
		return nil, err
	}
	caCrt := &x509.Certificate{
		SerialNumber:          sn,
		Subject:               issuer,
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(caValidity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	caPrk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	signedBytes, err := x509.CreateCertificate(rand.Reader, caCrt, caCrt, &caPrk.PublicKey, caPrk)
	if err != nil {
		return nil, err
	}

	caCrt, err = x509.ParseCertificate(signedBytes)
	if err != nil {
		return nil, err
	}

	return &Authority{
		Certificate: caCrt,
		prk:         caPrk,
	}, nil
}

func (ca *Authority) IssuerCertificate() *x509.Certificate {
	return ca.Certificate
}

// IssueServerCertificate creates a key pair and a server certificate for the
// given host names and IP addresses.
func (ca *Authority) IssueServerCertificate(hosts ...string) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	if len(hosts) == 0 {
		return nil, nil, fmt.Errorf("at least one host is required")
	}

	prk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to generate key: %w", err)
	}

	sn, err := serialNumber()
	if err != nil {
		return nil, nil, err
	}

	crtTemplate := x509.Certificate{
		SerialNumber: sn,
		Issuer:       ca.Certificate.Subject,
		Subject:      pkix.Name{CommonName: hosts[0]},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(serverValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			crtTemplate.IPAddresses = append(crtTemplate.IPAddresses, ip)
		} else {
			crtTemplate.DNSNames = append(crtTemplate.DNSNames, h)
		}
	}

	crtRaw, err := x509.CreateCertificate(rand.Reader, &crtTemplate, ca.Certificate, &prk.PublicKey, ca.prk)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to sign server certificate: %w", err)
	}

	crt, err := x509.ParseCertificate(crtRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse server certificate: %w", err)
	}

	return crt, prk, nil
}

// WriteKeyPair writes cert followed by the CA certificate to certPath and the
// PKCS#8 encoded key to keyPath.
func (ca *Authority) WriteKeyPair(certPath, keyPath string, cert *x509.Certificate, key *ecdsa.PrivateKey) error {
	chain := EncodeCertToPEM(cert) + EncodeCertToPEM(ca.Certificate)
	keyPEM, err := EncodeKeyToPEM(key)
	if err != nil {
		return err
	}
	for path, data := range map[string]string{certPath: chain, keyPath: keyPEM} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			return err
		}
	}
	return nil
}

// Encodes a X509 certificate to PEM format
func EncodeCertToPEM(cert *x509.Certificate) string {
	certPem := new(bytes.Buffer)
	pem.Encode(certPem, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	})
	return certPem.String()
}

func EncodeKeyToPEM(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("unable to encode key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

func serialNumber() (*big.Int, error) {
	max := new(big.Int)
	max.Exp(big.NewInt(2), big.NewInt(130), nil).Sub(max, big.NewInt(1))
	sn, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, fmt.Errorf("unable to generate serial number: %w", err)
	}
	return sn, nil
}
