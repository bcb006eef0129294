// Package tenancy derives and carries opaque tenant handles.
//
// A handle is a keyed one-way hash of the raw tenant identifier. The service
// only ever sees handles; operators derive them offline with cmd/tenant-handle.
package tenancy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// HandleLength is the number of hex characters in a derived handle.
	HandleLength = 32

	minHandleLength = 16
	maxHandleLength = 128
	logHandleLength = 10
)

// ErrEmptyPepper is returned when no hashing secret is configured.
var ErrEmptyPepper = errors.New("tenancy: pepper is required")

// HandleFor derives the handle for a raw tenant identifier.
func HandleFor(pepper []byte, tenantID string) (string, error) {
	if len(pepper) == 0 {
		return "", ErrEmptyPepper
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", errors.New("tenancy: tenant id is required")
	}
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(tenantID))
	return hex.EncodeToString(mac.Sum(nil))[:HandleLength], nil
}

// ValidHandle reports whether s is shaped like a tenant handle: lowercase
// alphanumerics, '-' or '_', bounded length. Anything else is rejected before
// it reaches a cache or a store key.
func ValidHandle(s string) bool {
	if len(s) < minHandleLength || len(s) > maxHandleLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// LogHandle re-hashes and truncates a handle for logs and audit events so the
// stored handle itself never appears in log sinks.
func LogHandle(handle string) string {
	if handle == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("log:" + handle))
	return hex.EncodeToString(sum[:])[:logHandleLength]
}
