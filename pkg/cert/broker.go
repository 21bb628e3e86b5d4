// Package cert generates the TLS material and auth files used when testing
// the router's MQTT broker.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Broker certificate parameters.
const (
	// Validity is the lifetime of generated certificates.
	Validity = 365 * 24 * time.Hour

	// KeyBits is the RSA modulus size.
	KeyBits = 2048

	// CACommonName is the subject CN of the generated CA.
	CACommonName = "MQTT Broker CA"

	// ServerName is the subject CN and DNS SAN of the server certificate.
	ServerName = "mqtt.local"

	// Organization and Country appear in both subjects.
	Organization = "Home MQTT Infrastructure"
	Country      = "LT"

	// SubDir is created under the target directory.
	SubDir = "mqtt_certificates"
)

// File names inside SubDir.
const (
	CAFileName     = "ca.crt"
	ServerCertName = "server.crt"
	ServerKeyName  = "server.key"
)

// Paths locates a CA certificate, server certificate and server key.
type Paths struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// Complete reports whether all three paths are set and exist.
func (p Paths) Complete() bool {
	for _, path := range []string{p.CAFile, p.CertFile, p.KeyFile} {
		if path == "" {
			return false
		}
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Bundle is a generated CA and the server certificate it signed.
type Bundle struct {
	CA        *x509.Certificate
	CAKey     *rsa.PrivateKey
	Server    *x509.Certificate
	ServerKey *rsa.PrivateKey

	// Paths holds where the bundle was written.
	Paths Paths
}

func serialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

func subject(cn string) pkix.Name {
	return pkix.Name{
		CommonName:   cn,
		Organization: []string{Organization},
		Country:      []string{Country},
	}
}

// NewBundle creates a self-signed CA and a server certificate for ServerName
// signed by it. Nothing is written to disk.
func NewBundle() (*Bundle, error) {
	caKey, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	caTemplate := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject(CACommonName),
		NotBefore:             now,
		NotAfter:              now.Add(Validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("create CA certificate: %w", err)
	}
	ca, err := x509.ParseCertificate(caDER)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	serverKey, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate server key: %w", err)
	}
	serial, err = serialNumber()
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	serverTemplate := &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject(ServerName),
		NotBefore:    now,
		NotAfter:     now.Add(Validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{ServerName},
	}
	serverDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, ca, &serverKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("create server certificate: %w", err)
	}
	server, err := x509.ParseCertificate(serverDER)
	if err != nil {
		return nil, fmt.Errorf("parse server certificate: %w", err)
	}

	return &Bundle{CA: ca, CAKey: caKey, Server: server, ServerKey: serverKey}, nil
}

// Write stores the CA certificate, server certificate and server key in dir.
func (b *Bundle) Write(dir string) (Paths, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, err
	}
	paths := Paths{
		CAFile:   filepath.Join(dir, CAFileName),
		CertFile: filepath.Join(dir, ServerCertName),
		KeyFile:  filepath.Join(dir, ServerKeyName),
	}
	if err := WriteCertFile(paths.CAFile, b.CA); err != nil {
		return Paths{}, fmt.Errorf("write CA certificate: %w", err)
	}
	if err := WriteCertFile(paths.CertFile, b.Server); err != nil {
		return Paths{}, fmt.Errorf("write server certificate: %w", err)
	}
	if err := WriteKeyFile(paths.KeyFile, b.ServerKey); err != nil {
		return Paths{}, fmt.Errorf("write server key: %w", err)
	}
	b.Paths = paths
	return paths, nil
}

// GenerateBrokerCertificates creates a new bundle and writes it to
// <dir>/mqtt_certificates.
func GenerateBrokerCertificates(dir string) (*Bundle, error) {
	b, err := NewBundle()
	if err != nil {
		return nil, err
	}
	if _, err := b.Write(filepath.Join(dir, SubDir)); err != nil {
		return nil, err
	}
	return b, nil
}

// PrepareBrokerCertificates returns want unchanged when every file exists.
// Otherwise it generates a bundle next to want.CAFile (or in the working
// directory) and moves each generated file onto the requested path.
func PrepareBrokerCertificates(want Paths) (Paths, error) {
	if want.Complete() {
		return want, nil
	}
	dir := "."
	if want.CAFile != "" {
		dir = filepath.Dir(want.CAFile)
	}
	b, err := GenerateBrokerCertificates(dir)
	if err != nil {
		return Paths{}, err
	}

	got := b.Paths
	moves := []struct {
		from string
		to   *string
		dst  string
	}{
		{b.Paths.CAFile, &got.CAFile, want.CAFile},
		{b.Paths.CertFile, &got.CertFile, want.CertFile},
		{b.Paths.KeyFile, &got.KeyFile, want.KeyFile},
	}
	for _, m := range moves {
		if m.dst == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(m.dst), 0755); err != nil {
			return Paths{}, err
		}
		if err := os.Rename(m.from, m.dst); err != nil {
			return Paths{}, fmt.Errorf("move %s: %w", m.from, err)
		}
		*m.to = m.dst
	}
	return got, nil
}
