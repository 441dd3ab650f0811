package ca

import (
	"context"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/twnesss/skunk/option"

	"github.com/sagernet/sing/common/json/badoption"
	"github.com/sagernet/sing/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthority(t *testing.T, options option.CAOptions) *Authority {
	t.Helper()
	if options.Directory == "" {
		options.Directory = t.TempDir()
	}
	authority, err := IssueRoot(logger.NOP(), options)
	require.NoError(t, err)
	t.Cleanup(func() {
		authority.Close()
	})
	return authority
}

func TestIssueRootPersists(t *testing.T) {
	t.Parallel()
	directory := filepath.Join(t.TempDir(), "ca")
	first := newTestAuthority(t, option.CAOptions{Directory: directory})
	require.True(t, first.Root().IsCA)
	require.Equal(t, DefaultCommonName, first.Root().Subject.CommonName)

	keyInfo, err := os.Stat(filepath.Join(directory, KeyFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), keyInfo.Mode().Perm())
	_, err = os.Stat(filepath.Join(directory, CertificateFileName))
	require.NoError(t, err)

	second := newTestAuthority(t, option.CAOptions{Directory: directory})
	require.True(t, first.Root().Equal(second.Root()))
	require.Equal(t, first.RootPEM(), second.RootPEM())
}

func TestIssueRootInconsistent(t *testing.T) {
	t.Parallel()
	directory := t.TempDir()
	newTestAuthority(t, option.CAOptions{Directory: directory})
	require.NoError(t, os.Remove(filepath.Join(directory, CertificateFileName)))
	_, err := IssueRoot(logger.NOP(), option.CAOptions{Directory: directory})
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))

	require.NoError(t, os.WriteFile(filepath.Join(directory, CertificateFileName), []byte("garbage"), 0o644))
	_, err = IssueRoot(logger.NOP(), option.CAOptions{Directory: directory})
	require.True(t, errors.As(err, &ioErr))
	require.Equal(t, "parse", ioErr.Op)
}

func TestCreateRootCertificateWriteFailure(t *testing.T) {
	t.Parallel()
	directory := t.TempDir()
	authority := &Authority{
		logger:          logger.NOP(),
		keyPath:         filepath.Join(directory, KeyFileName),
		certificatePath: filepath.Join(directory, "missing", CertificateFileName),
		timeFunc:        time.Now,
	}
	_, err := authority.createRoot(directory, DefaultCommonName)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, "write", ioErr.Op)
	_, err = os.Stat(authority.keyPath)
	require.ErrorIs(t, err, os.ErrNotExist)
	entries, err := os.ReadDir(directory)
	require.NoError(t, err)
	require.Empty(t, entries)

	newTestAuthority(t, option.CAOptions{Directory: directory})
}

func TestLeafSingleFlight(t *testing.T) {
	t.Parallel()
	authority := newTestAuthority(t, option.CAOptions{})
	const callers = 50
	serials := make([]string, callers)
	var group sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		group.Add(1)
		go func(index int) {
			defer group.Done()
			<-start
			certificate, err := authority.LeafFor(context.Background(), "example.com")
			if !assert.NoError(t, err) {
				return
			}
			serials[index] = certificate.Leaf.SerialNumber.String()
		}(i)
	}
	close(start)
	group.Wait()
	require.Equal(t, int64(1), authority.Issued())
	for _, serial := range serials {
		require.Equal(t, serials[0], serial)
	}
}

func TestLeafVerifies(t *testing.T) {
	t.Parallel()
	authority := newTestAuthority(t, option.CAOptions{LeafValidity: badoption.Duration(48 * time.Hour)})
	certificate, err := authority.LeafFor(context.Background(), "Bücher.Example.")
	require.NoError(t, err)
	require.Equal(t, []string{"xn--bcher-kva.example"}, certificate.Leaf.DNSNames)
	require.Len(t, certificate.Certificate, 2)
	require.WithinDuration(t, time.Now().Add(48*time.Hour), certificate.Leaf.NotAfter, time.Minute)
	_, err = certificate.Leaf.Verify(x509.VerifyOptions{
		DNSName: "xn--bcher-kva.example",
		Roots:   authority.CertPool(),
	})
	require.NoError(t, err)

	again, err := authority.LeafFor(context.Background(), "xn--bcher-kva.example")
	require.NoError(t, err)
	require.Same(t, certificate, again)
	require.Equal(t, int64(1), authority.Issued())

	addressCertificate, err := authority.LeafFor(context.Background(), "[::ffff:127.0.0.1]")
	require.NoError(t, err)
	require.Empty(t, addressCertificate.Leaf.DNSNames)
	require.Len(t, addressCertificate.Leaf.IPAddresses, 1)
	require.Equal(t, "127.0.0.1", addressCertificate.Leaf.IPAddresses[0].String())

	_, err = authority.LeafFor(context.Background(), " ")
	var signingErr *SigningError
	require.True(t, errors.As(err, &signingErr))
}

func TestLeafRegeneratedNearExpiry(t *testing.T) {
	t.Parallel()
	authority := newTestAuthority(t, option.CAOptions{})
	first, err := authority.LeafFor(context.Background(), "example.org")
	require.NoError(t, err)
	authority.timeFunc = func() time.Time {
		return time.Now().Add(authority.leafValidity)
	}
	second, err := authority.LeafFor(context.Background(), "example.org")
	require.NoError(t, err)
	require.NotEqual(t, first.Leaf.SerialNumber, second.Leaf.SerialNumber)
	require.Equal(t, int64(2), authority.Issued())
	require.Equal(t, first.PrivateKey, second.PrivateKey)
}

func TestRootReload(t *testing.T) {
	t.Parallel()
	directory := t.TempDir()
	authority := newTestAuthority(t, option.CAOptions{Directory: directory, Watch: true})
	before, err := authority.LeafFor(context.Background(), "example.net")
	require.NoError(t, err)

	replacement := newTestAuthority(t, option.CAOptions{})
	keyContent, err := os.ReadFile(replacement.keyPath)
	require.NoError(t, err)
	certificateContent, err := os.ReadFile(replacement.certificatePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(authority.keyPath, keyContent, 0o600))
	require.NoError(t, os.WriteFile(authority.certificatePath, certificateContent, 0o644))

	require.Eventually(t, func() bool {
		return authority.Root().Equal(replacement.Root())
	}, 5*time.Second, 20*time.Millisecond)
	after, err := authority.LeafFor(context.Background(), "example.net")
	require.NoError(t, err)
	require.NotSame(t, before, after)
	_, err = after.Leaf.Verify(x509.VerifyOptions{DNSName: "example.net", Roots: replacement.CertPool()})
	require.NoError(t, err)
}
