package utils

import (
	"strings"
)

// IsRecoverableError reports whether a failed archive/storage operation is
// worth retrying. Transient network faults are; everything else goes to the
// dead letter queue.
func IsRecoverableError(err error) bool {
	recoverableErrors := []string{
		"connection refused",
		"connection reset",
		"i/o timeout",
		"broken pipe",
		"EOF",
	}

	msg := err.Error()
	for _, recoverable := range recoverableErrors {
		if strings.Contains(msg, recoverable) {
			return true
		}
	}
	return false
}
