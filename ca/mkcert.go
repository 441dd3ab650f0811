package ca

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/netip"
	"time"

	C "github.com/twnesss/skunk/constant"
)

type rootPair struct {
	certificate *x509.Certificate
	key         crypto.Signer
}

func generateKey() (crypto.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, &KeyGenerationError{Cause: err}
	}
	return key, nil
}

func randomSerialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

func generateRoot(now time.Time, commonName string) (*rootPair, error) {
	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	serialNumber, err := randomSerialNumber()
	if err != nil {
		return nil, &SigningError{Cause: err}
	}
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"skunk"},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(C.RootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	certificateDer, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, &SigningError{Cause: err}
	}
	certificate, err := x509.ParseCertificate(certificateDer)
	if err != nil {
		return nil, &SigningError{Cause: err}
	}
	return &rootPair{certificate: certificate, key: key}, nil
}

func signLeaf(now time.Time, validity time.Duration, hostname string, address netip.Addr, leafKey crypto.Signer, root *rootPair) (*tls.Certificate, error) {
	serialNumber, err := randomSerialNumber()
	if err != nil {
		return nil, &SigningError{Hostname: hostname, Cause: err}
	}
	notAfter := now.Add(validity)
	if notAfter.After(root.certificate.NotAfter) {
		notAfter = root.certificate.NotAfter
	}
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: hostname,
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if address.IsValid() {
		template.IPAddresses = append(template.IPAddresses, address.AsSlice())
	} else {
		template.DNSNames = []string{hostname}
	}
	certificateDer, err := x509.CreateCertificate(rand.Reader, template, root.certificate, leafKey.Public(), root.key)
	if err != nil {
		return nil, &SigningError{Hostname: hostname, Cause: err}
	}
	leaf, err := x509.ParseCertificate(certificateDer)
	if err != nil {
		return nil, &SigningError{Hostname: hostname, Cause: err}
	}
	return &tls.Certificate{
		Certificate: [][]byte{certificateDer, root.certificate.Raw},
		PrivateKey:  leafKey,
		Leaf:        leaf,
	}, nil
}
