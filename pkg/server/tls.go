package server

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

var (
	ErrCertificateNotFound = errors.New("certificate file not found")
	ErrNoCertificates      = errors.New("no certificates found")
	ErrNoPrivateKey        = errors.New("no private key found")
	ErrMalformedKey        = errors.New("malformed private key")
	ErrKeyMismatch         = errors.New("private key does not match certificate")
)

// LoadKeyPair reads the PEM encoded certificate chain and private key.
// certPath and keyPath may name the same file.
func LoadKeyPair(certPath, keyPath string) (tls.Certificate, error) {
	certPEM, err := readPEMFile(certPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := certPEM
	if keyPath != certPath {
		if keyPEM, err = readPEMFile(keyPath); err != nil {
			return tls.Certificate{}, err
		}
	}

	var (
		chain [][]byte
		leaf  *x509.Certificate
	)
	for block, rest := pem.Decode(certPEM); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("parse certificate in %s: %w", certPath, err)
		}
		if leaf == nil {
			leaf = cert
		}
		chain = append(chain, block.Bytes)
	}
	if len(chain) == 0 {
		return tls.Certificate{}, fmt.Errorf("%w in %s", ErrNoCertificates, certPath)
	}

	var keyBlock *pem.Block
	for block, rest := pem.Decode(keyPEM); block != nil; block, rest = pem.Decode(rest) {
		if block.Type == "PRIVATE KEY" || strings.HasSuffix(block.Type, " PRIVATE KEY") {
			keyBlock = block
			break
		}
	}
	if keyBlock == nil {
		return tls.Certificate{}, fmt.Errorf("%w in %s", ErrNoPrivateKey, keyPath)
	}

	key, err := parsePrivateKey(keyBlock.Bytes)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w in %s: %w", ErrMalformedKey, keyPath, err)
	}

	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return tls.Certificate{}, fmt.Errorf("%w: %s and %s", ErrKeyMismatch, certPath, keyPath)
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

func readPEMFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported key type %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("unknown private key encoding")
}

// TLSConfig returns the server TLS configuration for cert.
func TLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		NextProtos: []string{"http/1.1"},
	}
}
