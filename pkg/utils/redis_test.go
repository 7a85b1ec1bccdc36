package utils

import (
	"context"
	"testing"
	"time"
)

func TestMarkerHelpersValidateInput(t *testing.T) {
	ctx := context.Background()
	if _, err := SetMarker(ctx, nil, "k", time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := HasMarker(ctx, nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisOptions(t *testing.T) {
	if _, _, err := (RedisConfig{}).options(); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	if _, _, err := (RedisConfig{Addr: "localhost:6379", DB: -1}).options(); err == nil {
		t.Fatalf("expected error for negative db")
	}

	opts, ping, err := RedisConfig{Addr: "localhost:6379", Password: "pw", DB: 2, ReadTimeout: time.Second}.options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.PoolSize != 20 || ping != 2*time.Second {
		t.Fatalf("defaults not applied: pool=%d ping=%v", opts.PoolSize, ping)
	}
	if opts.ReadTimeout != time.Second || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("overrides lost: %+v", opts)
	}
}
