package adapter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
)

type CertificateAuthority interface {
	Root() *x509.Certificate
	LeafFor(ctx context.Context, hostname string) (*tls.Certificate, error)
}
