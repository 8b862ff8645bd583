package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilClientReportsNotInitialized(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Minute); !errors.Is(err, errNotInitialized) {
		t.Fatalf("Set: expected errNotInitialized, got %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("Get: expected errNotInitialized, got %v", err)
	}
	if err := c.Ping(ctx); !errors.Is(err, errNotInitialized) {
		t.Fatalf("Ping: expected errNotInitialized, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
	if c.Raw() != nil {
		t.Fatalf("expected nil raw client")
	}
}
