// Package tlsutil provides TLS bring-up for the gameserver process: either
// load an operator-supplied certificate/key pair, or mint a self-signed
// ECDSA P-256 certificate at startup. The self-signed path is carried over
// near-unchanged from the reference server's generateTLSConfig.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// GenerateSelfSigned creates a self-signed TLS certificate for QUIC/HTTPS
// bring-up when no operator-supplied certificate is configured. Returns the
// tls.Config, its SHA-256 fingerprint (logged at startup per SPEC_FULL.md's
// S9 scenario), and any error.
func GenerateSelfSigned(validity time.Duration, hostname string) (*tls.Config, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", fmt.Errorf("generate serial: %w", err)
	}

	cn := "gamecore"
	if hostname != "" {
		cn = hostname
	}

	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", fmt.Errorf("create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, "", fmt.Errorf("parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)
	fingerprint := hex.EncodeToString(fp[:])

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{"h3"},
	}, fingerprint, nil
}

// LoadOrGenerate loads certFile/keyFile if both are set, otherwise mints a
// self-signed certificate. hostname seeds the self-signed certificate's CN
// and SANs; it is ignored when loading an operator-supplied pair.
func LoadOrGenerate(certFile, keyFile string, validity time.Duration, hostname string) (*tls.Config, string, error) {
	if certFile == "" || keyFile == "" {
		return GenerateSelfSigned(validity, hostname)
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, "", fmt.Errorf("load tls key pair: %w", err)
	}
	var fingerprint string
	if len(cert.Certificate) > 0 {
		fp := sha256.Sum256(cert.Certificate[0])
		fingerprint = hex.EncodeToString(fp[:])
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3"},
	}, fingerprint, nil
}
