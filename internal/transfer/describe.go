package transfer

import (
	"errors"
	"fmt"

	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
	"github.com/gluk-w/claworc/sftpsync/internal/pathguard"
	"github.com/gluk-w/claworc/sftpsync/internal/sftpconn"
	"github.com/gluk-w/claworc/sftpsync/internal/transferqueue"
)

// Describe renders err as a message for people: path guard blocks, host key
// blocks (with both fingerprints on a mismatch), cancellation and plain
// transport failures each read differently.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var pg *pathguard.Error
	if errors.As(err, &pg) {
		switch pg.Kind {
		case pathguard.KindLocalTraversal:
			return fmt.Sprintf("Blocked: local path %s is outside the workspace %s", pg.Candidate, pg.Base)
		case pathguard.KindRemoteTraversal:
			return fmt.Sprintf("Blocked: remote path %s is outside the remote base %s", pg.Candidate, pg.Base)
		case pathguard.KindCriticalPath:
			return fmt.Sprintf("Blocked: refusing to delete critical remote path %s", pg.Candidate)
		}
	}

	var mm *hosttrust.MismatchError
	if errors.As(err, &mm) {
		return fmt.Sprintf("Host key for %s has changed (expected %s, got %s). This may be a MITM attack; verify the server before trusting the new key.",
			mm.HostPort, mm.Expected, mm.Actual)
	}
	var uh *hosttrust.UnknownHostError
	if errors.As(err, &uh) {
		return fmt.Sprintf("Host %s is not trusted under the %s host key policy (fingerprint %s). Trust the host key to connect.",
			uh.HostPort, uh.Policy, uh.Fingerprint)
	}
	if errors.Is(err, sftpconn.ErrHostKeyValidation) {
		return "Host key validation failed: " + err.Error()
	}

	if errors.Is(err, transferqueue.ErrCleared) {
		return "Removed from the transfer queue: " + err.Error()
	}
	if errors.Is(err, transferqueue.ErrOperationCanceled) {
		return "Operation canceled"
	}
	if errors.Is(err, sftpconn.ErrNoAuthMethod) {
		return "No password or private key is configured for this server"
	}
	return "Transfer failed: " + err.Error()
}
