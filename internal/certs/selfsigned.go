// Package certs creates the short-lived self-signed certificate the status
// API serves over HTTPS and HTTP/3. Clients that cannot verify it pin it by
// its SHA-256 hash, published at /api/cert-hash.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"
)

// MaxValidity is the longest lifetime browsers accept for a certificate
// pinned by hash.
const MaxValidity = 14 * 24 * time.Hour

const commonName = "telegraph"

// Cert is a generated certificate and its fingerprint.
type Cert struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// Base64 returns the fingerprint in the form browsers expect for
// serverCertificateHashes.
func (c *Cert) Base64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// Hex returns the fingerprint as lowercase hex.
func (c *Cert) Hex() string {
	return hex.EncodeToString(c.Fingerprint[:])
}

// TLSConfig returns a server config presenting the certificate.
func (c *Cert) TLSConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		NextProtos:   nextProtos,
		MinVersion:   tls.VersionTLS13,
	}
}

// Generate creates an ECDSA P-256 certificate for localhost plus any extra
// hosts, which may be DNS names or IP literals. A validity outside
// (0, MaxValidity] is clamped to MaxValidity.
func Generate(validity time.Duration, hosts ...string) (*Cert, error) {
	if validity <= 0 || validity > MaxValidity {
		validity = MaxValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	dns := []string{"localhost"}
	ips := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip)
		} else if h != "" {
			dns = append(dns, h)
		}
	}

	// Backdated a minute for clock skew; the total span still honors validity.
	notBefore := time.Now().Add(-time.Minute)
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dns,
		IPAddresses:  ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &Cert{
		TLSCert:     tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		Fingerprint: sha256.Sum256(der),
		NotAfter:    tmpl.NotAfter,
	}, nil
}
