package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/observability/logger"
)

func TestNewAdapter_Validation(t *testing.T) {
	if _, err := NewAdapter(Config{}, logger.Nop()); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewAdapter(Config{URL: "mongodb://localhost:27017"}, logger.Nop()); err == nil {
		t.Fatal("expected error for empty database")
	}
}

func TestClosedAdapterRejectsOperations(t *testing.T) {
	a := &Adapter{closed: true, logger: logger.Nop()}
	if err := a.Ping(context.Background()); !errors.Is(err, objectstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Put(context.Background(), "objects", "k", nil); !errors.Is(err, objectstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check failure when closed")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close on closed adapter must be a no-op: %v", err)
	}
}

func TestPrefixFilter(t *testing.T) {
	if got := prefixFilter(""); len(got) != 0 {
		t.Fatalf("expected empty filter, got %v", got)
	}
	got := prefixFilter("plan.1")
	inner, ok := got["_id"].(bson.M)
	if !ok {
		t.Fatalf("unexpected filter %v", got)
	}
	if inner["$regex"] != `^plan\.1` {
		t.Fatalf("prefix must be anchored and quoted, got %v", inner["$regex"])
	}
}

func TestWithOperationTimeout_PreservesCallerDeadline(t *testing.T) {
	a := &Adapter{timeout: 2 * time.Second}
	parentCtx, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer parentCancel()

	ctx, cancel := a.withOperationTimeout(parentCtx)
	defer cancel()

	parentDeadline, _ := parentCtx.Deadline()
	gotDeadline, _ := ctx.Deadline()
	if !gotDeadline.Equal(parentDeadline) {
		t.Fatalf("expected caller deadline to be preserved, got %v want %v", gotDeadline, parentDeadline)
	}
}
