package ca

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/option"

	"github.com/fsnotify/fsnotify"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"
)

const (
	KeyFileName         = "ca.key.pem"
	CertificateFileName = "ca.cert.pem"
	DefaultCommonName   = "skunk root ca"
)

var _ adapter.CertificateAuthority = (*Authority)(nil)

type Authority struct {
	logger          logger.ContextLogger
	keyPath         string
	certificatePath string
	leafValidity    time.Duration
	timeFunc        func() time.Time
	root            atomic.Pointer[rootPair]
	leafKey         crypto.Signer
	cache           sync.Map
	group           singleflight.Group
	issued          atomic.Int64
	watcher         *fsnotify.Watcher
	closeOnce       sync.Once
}

type leafEntry struct {
	certificate *tls.Certificate
	root        *rootPair
}

// IssueRoot loads the root certificate and key from the configured directory,
// generating and writing both when neither exists.
func IssueRoot(logger logger.ContextLogger, options option.CAOptions) (*Authority, error) {
	if options.Directory == "" {
		return nil, E.New("missing CA directory")
	}
	authority := &Authority{
		logger:          logger,
		keyPath:         filepath.Join(options.Directory, KeyFileName),
		certificatePath: filepath.Join(options.Directory, CertificateFileName),
		leafValidity:    time.Duration(options.LeafValidity),
		timeFunc:        time.Now,
	}
	if authority.leafValidity <= 0 {
		authority.leafValidity = C.DefaultLeafValidity
	}
	commonName := options.CommonName
	if commonName == "" {
		commonName = DefaultCommonName
	}
	root, err := authority.loadRoot()
	if errors.Is(err, fs.ErrNotExist) {
		root, err = authority.createRoot(options.Directory, commonName)
	}
	if err != nil {
		return nil, err
	}
	authority.root.Store(root)
	authority.leafKey, err = generateKey()
	if err != nil {
		return nil, err
	}
	if options.Watch {
		err = authority.startWatcher(options.Directory)
		if err != nil {
			return nil, E.Cause(err, "watch CA directory")
		}
	}
	return authority, nil
}

func (a *Authority) loadRoot() (*rootPair, error) {
	keyContent, keyErr := os.ReadFile(a.keyPath)
	certificateContent, certificateErr := os.ReadFile(a.certificatePath)
	keyMissing := errors.Is(keyErr, fs.ErrNotExist)
	certificateMissing := errors.Is(certificateErr, fs.ErrNotExist)
	switch {
	case keyMissing && certificateMissing:
		return nil, fs.ErrNotExist
	case keyMissing:
		return nil, &IOError{Op: "load", Path: a.keyPath, Cause: E.New("certificate exists without key")}
	case certificateMissing:
		return nil, &IOError{Op: "load", Path: a.certificatePath, Cause: E.New("key exists without certificate")}
	case keyErr != nil:
		return nil, &IOError{Op: "read", Path: a.keyPath, Cause: keyErr}
	case certificateErr != nil:
		return nil, &IOError{Op: "read", Path: a.certificatePath, Cause: certificateErr}
	}
	return parseRoot(a.keyPath, keyContent, a.certificatePath, certificateContent)
}

func parseRoot(keyPath string, keyContent []byte, certificatePath string, certificateContent []byte) (*rootPair, error) {
	certificateBlock, _ := pem.Decode(certificateContent)
	if certificateBlock == nil || certificateBlock.Type != "CERTIFICATE" {
		return nil, &IOError{Op: "parse", Path: certificatePath, Cause: E.New("no certificate PEM block")}
	}
	certificate, err := x509.ParseCertificate(certificateBlock.Bytes)
	if err != nil {
		return nil, &IOError{Op: "parse", Path: certificatePath, Cause: err}
	}
	if !certificate.IsCA {
		return nil, &IOError{Op: "parse", Path: certificatePath, Cause: E.New("not a CA certificate")}
	}
	keyBlock, _ := pem.Decode(keyContent)
	if keyBlock == nil {
		return nil, &IOError{Op: "parse", Path: keyPath, Cause: E.New("no key PEM block")}
	}
	key, err := parsePrivateKey(keyBlock)
	if err != nil {
		return nil, &IOError{Op: "parse", Path: keyPath, Cause: err}
	}
	publicKey, isComparable := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if isComparable && !publicKey.Equal(certificate.PublicKey) {
		return nil, &IOError{Op: "parse", Path: keyPath, Cause: E.New("key does not match certificate")}
	}
	return &rootPair{certificate: certificate, key: key}, nil
}

func parsePrivateKey(block *pem.Block) (crypto.Signer, error) {
	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, err
	}
	signer, isSigner := key.(crypto.Signer)
	if !isSigner {
		return nil, E.New("unsupported key type ", block.Type)
	}
	return signer, nil
}

func (a *Authority) createRoot(directory string, commonName string) (*rootPair, error) {
	root, err := generateRoot(a.timeFunc(), commonName)
	if err != nil {
		return nil, err
	}
	keyDer, err := x509.MarshalPKCS8PrivateKey(root.key)
	if err != nil {
		return nil, &KeyGenerationError{Cause: err}
	}
	err = os.MkdirAll(directory, 0o700)
	if err != nil {
		return nil, &IOError{Op: "create", Path: directory, Cause: err}
	}
	err = writeFile(a.keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDer}), 0o600)
	if err != nil {
		return nil, &IOError{Op: "write", Path: a.keyPath, Cause: err}
	}
	err = writeFile(a.certificatePath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.certificate.Raw}), 0o644)
	if err != nil {
		// a key without its certificate fails every later load
		_ = os.Remove(a.keyPath)
		return nil, &IOError{Op: "write", Path: a.certificatePath, Cause: err}
	}
	a.logger.Info("generated root certificate at ", a.certificatePath)
	return root, nil
}

// writeFile replaces path through a temporary file in the same directory, so
// readers never see partial content.
func writeFile(path string, content []byte, perm os.FileMode) error {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tempPath := file.Name()
	_, err = file.Write(content)
	if err == nil {
		err = file.Chmod(perm)
	}
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tempPath, path)
	}
	if err != nil {
		_ = os.Remove(tempPath)
	}
	return err
}

func (a *Authority) Root() *x509.Certificate {
	return a.root.Load().certificate
}

func (a *Authority) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.Root().Raw})
}

func (a *Authority) CertificatePath() string {
	return a.certificatePath
}

func (a *Authority) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.Root())
	return pool
}

// Issued reports how many leaf certificates have been signed.
func (a *Authority) Issued() int64 {
	return a.issued.Load()
}

// LeafFor returns a certificate for hostname signed by the root. Concurrent
// callers for the same name share one signing operation.
func (a *Authority) LeafFor(ctx context.Context, hostname string) (*tls.Certificate, error) {
	name, address, err := normalizeHostname(hostname)
	if err != nil {
		return nil, &SigningError{Hostname: hostname, Cause: err}
	}
	if certificate, loaded := a.cached(name); loaded {
		return certificate, nil
	}
	resultChan := a.group.DoChan(name, func() (any, error) {
		if certificate, loaded := a.cached(name); loaded {
			return certificate, nil
		}
		root := a.root.Load()
		certificate, err := signLeaf(a.timeFunc(), a.leafValidity, name, address, a.leafKey, root)
		if err != nil {
			return nil, err
		}
		a.issued.Add(1)
		a.cache.Store(name, &leafEntry{certificate: certificate, root: root})
		a.logger.DebugContext(ctx, "issued certificate for ", name)
		return certificate, nil
	})
	select {
	case result := <-resultChan:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*tls.Certificate), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Authority) cached(name string) (*tls.Certificate, bool) {
	rawEntry, loaded := a.cache.Load(name)
	if !loaded {
		return nil, false
	}
	entry := rawEntry.(*leafEntry)
	if entry.root != a.root.Load() || a.stale(entry.certificate.Leaf) {
		return nil, false
	}
	return entry.certificate, true
}

func (a *Authority) stale(leaf *x509.Certificate) bool {
	renewBefore := a.leafValidity / 10
	if renewBefore > time.Hour {
		renewBefore = time.Hour
	}
	return a.timeFunc().Add(renewBefore).After(leaf.NotAfter)
}

func normalizeHostname(hostname string) (string, netip.Addr, error) {
	hostname = strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	hostname = strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if hostname == "" {
		return "", netip.Addr{}, E.New("empty hostname")
	}
	if address, err := netip.ParseAddr(hostname); err == nil {
		address = address.Unmap()
		return address.String(), address, nil
	}
	name, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		// not valid IDNA, e.g. labels with underscores
		name = strings.ToLower(hostname)
	}
	return name, netip.Addr{}, nil
}

func (a *Authority) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.watcher != nil {
			err = a.watcher.Close()
		}
	})
	return err
}
