package engine

import (
	"context"
	"testing"
)

// BenchmarkCheck_Cached measures a decision served from the decision cache
func BenchmarkCheck_Cached(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()

	if _, err := h.engine.Check(ctx, "pharm", "patient.read"); err != nil {
		b.Fatalf("warm up: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.engine.Check(ctx, "pharm", "patient.read"); err != nil {
			b.Errorf("Failed to check: %v", err)
		}
	}
}

// BenchmarkCheck_Cold drops the user's cached state before every check so each
// iteration walks the workspace loader and the role chain
func BenchmarkCheck_Cold(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.engine.InvalidateUser(ctx, "pharm")
		if _, err := h.engine.Check(ctx, "pharm", "patient.read"); err != nil {
			b.Errorf("Failed to check: %v", err)
		}
	}
}

func BenchmarkCheck_Parallel(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()
	actions := h.engine.Matrix().Actions()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := h.engine.Check(ctx, "tech", actions[i%len(actions)]); err != nil {
				b.Errorf("Failed to check: %v", err)
			}
			i++
		}
	})
}
