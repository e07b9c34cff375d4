package enrich

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLimiterLocalWindow(t *testing.T) {
	limiter := NewLimiter(nil, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, "otx", 3) {
			t.Fatalf("request %d unexpectedly denied", i+1)
		}
	}
	if limiter.Allow(ctx, "otx", 3) {
		t.Error("request over limit unexpectedly allowed")
	}
}

func TestLimiterPerProviderBudgets(t *testing.T) {
	limiter := NewLimiter(nil, zap.NewNop())
	ctx := context.Background()

	if !limiter.Allow(ctx, "otx", 1) {
		t.Fatal("first otx request denied")
	}
	if limiter.Allow(ctx, "otx", 1) {
		t.Error("second otx request allowed over budget")
	}
	// A different provider has its own window.
	if !limiter.Allow(ctx, "abuseipdb", 1) {
		t.Error("abuseipdb request denied by otx budget")
	}
}

func TestLimiterZeroLimitDisables(t *testing.T) {
	limiter := NewLimiter(nil, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !limiter.Allow(ctx, "otx", 0) {
			t.Fatal("limit 0 must disable limiting")
		}
	}
}
