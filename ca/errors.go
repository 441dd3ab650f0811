package ca

import (
	"fmt"
)

type KeyGenerationError struct {
	Cause error
}

func (e *KeyGenerationError) Error() string {
	return "generate key: " + e.Cause.Error()
}

func (e *KeyGenerationError) Unwrap() error {
	return e.Cause
}

type SigningError struct {
	Hostname string
	Cause    error
}

func (e *SigningError) Error() string {
	if e.Hostname == "" {
		return "sign root certificate: " + e.Cause.Error()
	}
	return fmt.Sprintf("sign certificate for %s: %s", e.Hostname, e.Cause)
}

func (e *SigningError) Unwrap() error {
	return e.Cause
}

// IOError reports a failure reading or writing the root files, including an
// inconsistent directory where only one of them exists.
type IOError struct {
	Op    string
	Path  string
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Cause)
}

func (e *IOError) Unwrap() error {
	return e.Cause
}
