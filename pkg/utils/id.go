package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateRunID generates a unique acquisition run ID
func GenerateRunID() string {
	return GenerateID("run")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return GenerateID("req")
}

// GenerateHandleID generates an identifier for an opened runtime instance
func GenerateHandleID() string {
	return GenerateID("rt")
}

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
