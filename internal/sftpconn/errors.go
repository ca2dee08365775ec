package sftpconn

import (
	"errors"
	"fmt"

	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

var (
	// ErrDisposed is returned by every operation once Dispose has run.
	ErrDisposed = errors.New("connection manager disposed")
	// ErrNotConnected is returned when no pooled connection exists for a key.
	ErrNotConnected = errors.New("not connected")
	// ErrNoAuthMethod means the server has neither a password nor a private key.
	ErrNoAuthMethod = errors.New("no password or private key configured")
	// ErrHostKeyValidation marks a host-key check that failed for a reason
	// other than the policy blocking it, e.g. the trust store could not be saved.
	ErrHostKeyValidation = errors.New("host key validation failed")
)

// HostKeyError replaces the transport error of a connect that the host-key
// policy blocked. It unwraps to both the typed hosttrust error and the raw
// transport error.
type HostKeyError struct {
	Key     remote.Key
	Policy  hosttrust.Policy
	Result  hosttrust.Result
	Blocked error
	Cause   error
}

func (e *HostKeyError) Error() string {
	switch e.Result.Reason {
	case hosttrust.ReasonMismatch:
		return fmt.Sprintf("host key for %s rejected by %s policy: fingerprint mismatch (expected %s, got %s); possible key tampering or MITM attack",
			e.Key, e.Policy, e.Result.Expected, e.Result.Actual)
	case hosttrust.ReasonUnknownHost:
		return fmt.Sprintf("host key for %s rejected by %s policy: host is not trusted yet (offered %s); trust it explicitly to connect",
			e.Key, e.Policy, e.Result.Actual)
	default:
		return fmt.Sprintf("host key for %s rejected by %s policy: %s", e.Key, e.Policy, e.Result.Reason)
	}
}

// Is matches hosttrust.ErrHostKeyBlocked.
func (e *HostKeyError) Is(target error) bool { return target == hosttrust.ErrHostKeyBlocked }

func (e *HostKeyError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Blocked != nil {
		errs = append(errs, e.Blocked)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
