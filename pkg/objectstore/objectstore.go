// Package objectstore defines the capability set the bank needs from a backing object store.
//
// Backends live in sub-packages (memory, s3, redis, mongodb, dynamodb) and are selected
// by configuration through the factory package.
package objectstore

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key does not exist in the container.
	ErrNotFound = errors.New("object not found")
	// ErrContainerNotFound is returned when an operation targets a missing container
	// and the backend distinguishes that case.
	ErrContainerNotFound = errors.New("container not found")
	// ErrInvalidKey classifies empty or malformed object keys.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrClosed is returned by adapters after Close.
	ErrClosed = errors.New("object store adapter is closed")
)

// Adapter is the thin conformance shim over a backing object store.
//
// Delete must be idempotent: removing an absent key returns nil.
// List returns every key in the container starting with prefix, without duplicates;
// an empty prefix lists the whole container. Ordering is not part of the contract.
type Adapter interface {
	Put(ctx context.Context, container, key string, value []byte) error
	Get(ctx context.Context, container, key string) ([]byte, error)
	Delete(ctx context.Context, container, key string) error
	List(ctx context.Context, container, prefix string) ([]string, error)
	HeadContainer(ctx context.Context, container string) (bool, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// ContainerCreator is implemented by backends able to provision a container on demand.
type ContainerCreator interface {
	CreateContainer(ctx context.Context, container string) error
}

// ValidateKey rejects the empty key. Any other key is returned byte-for-byte: " k" and "k" name
// different objects.
func ValidateKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	return key, nil
}

// ValidateContainer trims container and rejects empty values.
func ValidateContainer(container string) (string, error) {
	trimmed := strings.TrimSpace(container)
	if trimmed == "" {
		return "", errors.New("container name is required")
	}
	return trimmed, nil
}

// UniqueKeys drops duplicates and returns keys sorted, so listings are stable for callers and tests.
func UniqueKeys(keys []string) []string {
	if len(keys) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
