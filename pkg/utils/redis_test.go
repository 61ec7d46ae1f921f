package utils

import (
	"context"
	"testing"
	"time"
)

func TestFixedWindowScriptCompiles(t *testing.T) {
	// Compile-time smoke test: the script should be initialized.
	if fixedWindowScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestFixedWindowAllow_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	if _, err := FixedWindowAllow(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{}.withDefaults()
	if cfg.PoolSize != 20 || cfg.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
