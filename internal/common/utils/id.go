// Package utils provides utility functions for the gateway.
//
// This package contains common utilities for correlation-id generation,
// retry logic, and duration parsing used throughout the application.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewRequestID generates a unique request identifier.
//
// The id is echoed to the client as X-Request-ID and stamped on every
// log line and ops event the request produces.
func NewRequestID() string {
	return "req-" + uuid.NewString()
}

// NewTraceID generates a 32-character lowercase-hex trace identifier
// suitable for the traceparent header.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewSpanID generates a 16-character lowercase-hex span identifier
// suitable for the traceparent header. The all-zero value is forbidden
// by the header format and never returned.
func NewSpanID() string {
	b := make([]byte, 8)
	for {
		if _, err := rand.Read(b); err != nil {
			u := uuid.New()
			copy(b, u[:8])
		}
		zero := true
		for _, c := range b {
			if c != 0 {
				zero = false
				break
			}
		}
		if !zero {
			return hex.EncodeToString(b)
		}
	}
}

// GenerateRandomID generates a cryptographically secure random hex ID.
//
// Creates a random ID of the specified length using crypto/rand. Each
// byte generates 2 hex characters, so odd lengths come out 1 character
// shorter.
func GenerateRandomID(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
