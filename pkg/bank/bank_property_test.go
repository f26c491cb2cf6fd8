package bank

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/objectbank/pkg/objectstore/memory"
)

// Property: ListObjects returns exactly the created keys with the prefix, each once
func TestProperty_ListObjectsMatchesPrefix(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("listing is the prefix-filtered key set", prop.ForAll(
		func(keys []string, prefix string) bool {
			b, err := New(context.Background(), DefaultConfig(), memory.NewAdapter())
			if err != nil {
				return false
			}
			ctx := context.Background()
			want := map[string]struct{}{}
			for _, key := range keys {
				if err := b.CreateObject(ctx, "k"+key, []byte(key)); err != nil {
					return false
				}
				if strings.HasPrefix("k"+key, "k"+prefix) {
					want["k"+key] = struct{}{}
				}
			}

			got, err := b.ListObjects(ctx, "k"+prefix)
			if err != nil || len(got) != len(want) {
				return false
			}
			for _, key := range got {
				if _, ok := want[key]; !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Property: what is written is what is read back
func TestProperty_RoundTrip(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("get returns the last value written", prop.ForAll(
		func(key string, first, second []byte) bool {
			b, err := New(context.Background(), DefaultConfig(), memory.NewAdapter())
			if err != nil {
				return false
			}
			ctx := context.Background()
			key = "k" + key
			if err := b.CreateObject(ctx, key, first); err != nil {
				return false
			}
			if err := b.UpdateObject(ctx, key, second); err != nil {
				return false
			}
			got, err := b.GetObject(ctx, key)
			return err == nil && string(got) == string(second)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
