package outbound

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/twnesss/skunk/dns"

	M "github.com/sagernet/sing/common/metadata"
)

const (
	ReasonResolution = "resolution failure"
	ReasonRefused    = "connection refused"
	ReasonHandshake  = "handshake failure"
	ReasonTimeout    = "timeout"
	ReasonNetwork    = "network failure"
)

type ConnectError struct {
	Reason      string
	Outbound    string
	Destination M.Socksaddr
	Cause       error
}

func (e *ConnectError) Error() string {
	message := "connect to " + e.Destination.String()
	if e.Outbound != "" {
		message += " via " + e.Outbound
	}
	message += ": " + e.Reason
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// wrapError turns a dial error into a ConnectError. Errors that already are
// ConnectErrors, such as those from a detour, keep their reason.
func wrapError(tag string, destination M.Socksaddr, err error) error {
	if err == nil {
		return nil
	}
	var connectErr *ConnectError
	if errors.As(err, &connectErr) {
		return &ConnectError{Reason: connectErr.Reason, Outbound: tag, Destination: destination, Cause: err}
	}
	return &ConnectError{Reason: classify(err), Outbound: tag, Destination: destination, Cause: err}
}

func handshakeError(tag string, destination M.Socksaddr, err error) error {
	if isTimeout(err) {
		return &ConnectError{Reason: ReasonTimeout, Outbound: tag, Destination: destination, Cause: err}
	}
	return &ConnectError{Reason: ReasonHandshake, Outbound: tag, Destination: destination, Cause: err}
}

func classify(err error) string {
	var (
		dnsErr   *net.DNSError
		rcodeErr dns.RCodeError
	)
	switch {
	case errors.As(err, &dnsErr), errors.As(err, &rcodeErr), errors.Is(err, dns.ErrNoAddresses):
		return ReasonResolution
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReasonRefused
	case isTimeout(err):
		return ReasonTimeout
	default:
		return ReasonNetwork
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
