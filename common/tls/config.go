package tls

import (
	"crypto/tls"
	"slices"

	E "github.com/sagernet/sing/common/exceptions"
)

func ParseTLSVersion(version string) (uint16, error) {
	switch version {
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, E.New("unknown tls version: ", version)
	}
}

var supportedCurves = []tls.CurveID{
	tls.X25519MLKEM768,
	tls.X25519,
	tls.CurveP256,
	tls.CurveP384,
	tls.CurveP521,
}

// ConfigFromClientHello builds a client configuration offering what the
// intercepted client offered. GREASE values and parameters crypto/tls does
// not implement are left out.
func ConfigFromClientHello(clientHello *tls.ClientHelloInfo) *tls.Config {
	var minVersion, maxVersion uint16
	for _, version := range clientHello.SupportedVersions {
		if version < tls.VersionTLS10 || version > tls.VersionTLS13 {
			continue
		}
		if minVersion == 0 || version < minVersion {
			minVersion = version
		}
		if version > maxVersion {
			maxVersion = version
		}
	}
	var curves []tls.CurveID
	for _, curve := range clientHello.SupportedCurves {
		if slices.Contains(supportedCurves, curve) {
			curves = append(curves, curve)
		}
	}
	return &tls.Config{
		CipherSuites:     clientHello.CipherSuites,
		NextProtos:       slices.Clone(clientHello.SupportedProtos),
		ServerName:       clientHello.ServerName,
		MinVersion:       minVersion,
		MaxVersion:       maxVersion,
		CurvePreferences: curves,
	}
}

// WithoutProtocol returns protocols with name removed.
func WithoutProtocol(protocols []string, name string) []string {
	return slices.DeleteFunc(slices.Clone(protocols), func(protocol string) bool {
		return protocol == name
	})
}
