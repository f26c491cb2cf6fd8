package bank

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound is returned by GetObject for a key that does not exist.
	ErrObjectNotFound = errors.New("bank object not found")
	// ErrObjectAlreadyExists is returned by CreateObject under the create-only policy.
	ErrObjectAlreadyExists = errors.New("bank object already exists")
	// ErrStorageUnavailable classifies backing store failures. The bank never retries;
	// callers may retry operations that fail with it.
	ErrStorageUnavailable = errors.New("bank storage unavailable")
	// ErrLeaseExpired is returned by gated operations when this process holds no valid lease.
	// Re-acquiring the lease recovers.
	ErrLeaseExpired = errors.New("bank lease expired")
	// ErrInvalidArgument classifies invalid caller arguments and configuration.
	ErrInvalidArgument = errors.New("bank invalid argument")
	// ErrClosed classifies operations performed on a closed bank.
	ErrClosed = errors.New("bank closed")
)

func bankError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// storageError keeps cause reachable through errors.Is/As next to ErrStorageUnavailable.
func storageError(operation string, cause error) error {
	return errors.Join(ErrStorageUnavailable, fmt.Errorf("%s: %w", operation, cause))
}
