// Package objectstoretest holds the behavioural checks every objectstore.Adapter must pass.
package objectstoretest

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/nimburion/objectbank/pkg/objectstore"
)

// RunConformance exercises adapter against an existing, empty container.
func RunConformance(t *testing.T, adapter objectstore.Adapter, container string) {
	t.Helper()
	ctx := context.Background()

	t.Run("HeadContainer", func(t *testing.T) {
		exists, err := adapter.HeadContainer(ctx, container)
		if err != nil {
			t.Fatalf("head container: %v", err)
		}
		if !exists {
			t.Fatalf("expected container %q to exist", container)
		}
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		payload := []byte{0x00, 0x01, 0xff, 'v'}
		if err := adapter.Put(ctx, container, "roundtrip", payload); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, err := adapter.Get(ctx, container, "roundtrip")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != string(payload) {
			t.Fatalf("expected %v, got %v", payload, got)
		}
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		if err := adapter.Put(ctx, container, "overwrite", []byte("value-1")); err != nil {
			t.Fatalf("put v1: %v", err)
		}
		if err := adapter.Put(ctx, container, "overwrite", []byte("value-2")); err != nil {
			t.Fatalf("put v2: %v", err)
		}
		got, err := adapter.Get(ctx, container, "overwrite")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != "value-2" {
			t.Fatalf("expected value-2, got %q", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := adapter.Get(ctx, container, "does-not-exist")
		if !errors.Is(err, objectstore.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		if err := adapter.Put(ctx, container, "to-delete", []byte("x")); err != nil {
			t.Fatalf("put: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := adapter.Delete(ctx, container, "to-delete"); err != nil {
				t.Fatalf("delete #%d: %v", i+1, err)
			}
		}
		if err := adapter.Delete(ctx, container, "never-existed"); err != nil {
			t.Fatalf("delete absent: %v", err)
		}
		if _, err := adapter.Get(ctx, container, "to-delete"); !errors.Is(err, objectstore.ErrNotFound) {
			t.Fatalf("expected deleted key to be gone, got %v", err)
		}
	})

	t.Run("ListPrefix", func(t *testing.T) {
		for _, key := range []string{"list/key-1", "list/key-2", "list/key-10", "other/key-1"} {
			if err := adapter.Put(ctx, container, key, []byte(key)); err != nil {
				t.Fatalf("put %q: %v", key, err)
			}
		}

		keys, err := adapter.List(ctx, container, "list/")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		assertKeys(t, keys, "list/key-1", "list/key-10", "list/key-2")

		keys, err = adapter.List(ctx, container, "list/key-1")
		if err != nil {
			t.Fatalf("list narrow: %v", err)
		}
		assertKeys(t, keys, "list/key-1", "list/key-10")

		all, err := adapter.List(ctx, container, "")
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		seen := map[string]int{}
		for _, key := range all {
			seen[key]++
			if seen[key] > 1 {
				t.Fatalf("duplicate key %q in listing", key)
			}
		}
		if seen["other/key-1"] != 1 || seen["list/key-2"] != 1 {
			t.Fatalf("full listing is missing keys: %v", all)
		}
	})

	t.Run("RejectsEmptyKey", func(t *testing.T) {
		if err := adapter.Put(ctx, container, "", []byte("x")); !errors.Is(err, objectstore.ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("KeysAreExact", func(t *testing.T) {
		keys := map[string]string{
			"spaced":   "value-plain",
			" spaced":  "value-leading",
			"spaced ":  "value-trailing",
			" spaced ": "value-both",
		}
		for key, value := range keys {
			if err := adapter.Put(ctx, container, key, []byte(value)); err != nil {
				t.Fatalf("put %q: %v", key, err)
			}
		}
		for key, value := range keys {
			got, err := adapter.Get(ctx, container, key)
			if err != nil {
				t.Fatalf("get %q: %v", key, err)
			}
			if string(got) != value {
				t.Fatalf("get %q: expected %q, got %q", key, value, got)
			}
		}

		leading, err := adapter.List(ctx, container, " spaced")
		if err != nil {
			t.Fatalf("list leading: %v", err)
		}
		assertKeys(t, leading, " spaced", " spaced ")

		if err := adapter.Delete(ctx, container, " spaced"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if got, err := adapter.Get(ctx, container, "spaced"); err != nil || string(got) != "value-plain" {
			t.Fatalf("deleting %q must not touch %q: %q, %v", " spaced", "spaced", got, err)
		}
		if _, err := adapter.Get(ctx, container, " spaced"); !errors.Is(err, objectstore.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for deleted key, got %v", err)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := adapter.HealthCheck(ctx); err != nil {
			t.Fatalf("health check: %v", err)
		}
	})
}

func assertKeys(t *testing.T, got []string, want ...string) {
	t.Helper()
	sorted := append([]string(nil), got...)
	sort.Strings(sorted)
	sort.Strings(want)
	if len(sorted) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, sorted)
	}
	for i := range want {
		if sorted[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, sorted)
		}
	}
}
