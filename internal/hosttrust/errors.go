package hosttrust

import (
	"errors"
	"fmt"
)

// ErrHostKeyBlocked matches every error produced by a blocked verification.
var ErrHostKeyBlocked = errors.New("host key verification blocked")

// UnknownHostError is returned when strict policy meets a host with no
// trusted fingerprint.
type UnknownHostError struct {
	HostPort    string
	Policy      Policy
	Fingerprint string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf("host key for %s is not trusted (policy %s, offered %s); trust it explicitly before connecting",
		e.HostPort, e.Policy, e.Fingerprint)
}

func (e *UnknownHostError) Is(target error) bool { return target == ErrHostKeyBlocked }

// MismatchError is returned when a known host offers a different key. This
// may indicate key tampering or a MITM attack.
type MismatchError struct {
	HostPort string
	Policy   Policy
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("host key fingerprint mismatch for %s (policy %s): expected %s, got %s (possible key tampering or MITM attack)",
		e.HostPort, e.Policy, e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool { return target == ErrHostKeyBlocked }
