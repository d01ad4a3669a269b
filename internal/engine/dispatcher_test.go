package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_CoversAllUnitsExactly(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		total int
	}{
		{name: "exact multiple", cfg: Config{Workers: 4, BatchFloor: 10, Oversubscription: 4, Seed: 1}, total: 160},
		{name: "remainder batch", cfg: Config{Workers: 4, BatchFloor: 10, Oversubscription: 4, Seed: 1}, total: 163},
		{name: "below floor", cfg: Config{Workers: 4, BatchFloor: 10, Oversubscription: 4, Seed: 1}, total: 7},
		{name: "single unit", cfg: Config{Workers: 8, BatchFloor: 10, Oversubscription: 4, Seed: 1}, total: 1},
		{name: "large", cfg: Config{Workers: 8, BatchFloor: 10, Oversubscription: 4, Seed: 1}, total: 100003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.cfg, zerolog.Nop())
			batches := d.Plan(tt.total)
			require.NotEmpty(t, batches)

			covered := 0
			next := 0
			for i, b := range batches {
				assert.Equal(t, i, b.Index)
				assert.Equal(t, next, b.Start, "batches must be contiguous")
				assert.Greater(t, b.End, b.Start, "batches must be non-empty")
				covered += b.Size()
				next = b.End
			}
			assert.Equal(t, tt.total, covered, "every unit must be assigned to exactly one batch")
			assert.Equal(t, tt.total, batches[len(batches)-1].End)
		})
	}
}

func TestPlan_RespectsBatchFloor(t *testing.T) {
	d := New(Config{Workers: 16, BatchFloor: 25, Oversubscription: 4, Seed: 1}, zerolog.Nop())
	batches := d.Plan(1000)

	for i, b := range batches {
		if i < len(batches)-1 {
			assert.GreaterOrEqual(t, b.Size(), 25, "only the final batch may be smaller than the floor")
		}
	}
}

func TestPlan_ZeroTotal(t *testing.T) {
	d := New(Config{Workers: 4, BatchFloor: 10, Oversubscription: 4, Seed: 1}, zerolog.Nop())
	assert.Nil(t, d.Plan(0))
	assert.Nil(t, d.Plan(-5))
}

func TestRun_VisitsEveryUnitOnce(t *testing.T) {
	d := New(Config{Workers: 4, BatchFloor: 10, Oversubscription: 4, Seed: 1}, zerolog.Nop())

	const total = 157
	visits := make([]int32, total)
	err := d.Run(context.Background(), total, func(_ context.Context, b Batch) error {
		for i := b.Start; i < b.End; i++ {
			atomic.AddInt32(&visits[i], 1)
		}
		return nil
	})
	require.NoError(t, err)

	for i, v := range visits {
		assert.Equal(t, int32(1), v, "unit %d visited %d times", i, v)
	}
}

func TestRun_DeterministicForFixedSeed(t *testing.T) {
	cfg := Config{Workers: 4, BatchFloor: 10, Oversubscription: 4, Seed: 42}

	draw := func() []float64 {
		d := New(cfg, zerolog.Nop())
		out := make([]float64, 200)
		err := d.Run(context.Background(), len(out), func(_ context.Context, b Batch) error {
			for i := b.Start; i < b.End; i++ {
				out[i] = b.Rng.Float64()
			}
			return nil
		})
		require.NoError(t, err)
		return out
	}

	first := draw()
	second := draw()
	assert.Equal(t, first, second, "same seed must reproduce the same per-unit stream")
}

func TestRun_BatchRngsAreDecorrelated(t *testing.T) {
	d := New(Config{Workers: 5, BatchFloor: 10, Oversubscription: 2, Seed: 7}, zerolog.Nop())

	firstDraw := make(map[int]float64)
	err := d.Run(context.Background(), 100, func(_ context.Context, b Batch) error {
		firstDraw[b.Index] = b.Rng.Float64()
		return nil
	})
	require.NoError(t, err)
	require.Greater(t, len(firstDraw), 1)

	seen := make(map[float64]bool)
	for _, v := range firstDraw {
		assert.False(t, seen[v], "batches must not share an RNG stream")
		seen[v] = true
	}
}

func TestRun_FailFast(t *testing.T) {
	d := New(Config{Workers: 2, BatchFloor: 5, Oversubscription: 2, Seed: 1}, zerolog.Nop())

	boom := fmt.Errorf("numerical blowup")
	err := d.Run(context.Background(), 100, func(_ context.Context, b Batch) error {
		if b.Index == 3 {
			return boom
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "batch 3")
}

func TestRun_RejectsNonPositiveTotal(t *testing.T) {
	d := New(Config{Workers: 2, BatchFloor: 5, Oversubscription: 2, Seed: 1}, zerolog.Nop())
	err := d.Run(context.Background(), 0, func(_ context.Context, b Batch) error { return nil })
	assert.Error(t, err)
}

func TestRun_HonorsContextCancellation(t *testing.T) {
	d := New(Config{Workers: 1, BatchFloor: 1, Oversubscription: 1, Seed: 1}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := int32(0)
	err := d.Run(ctx, 1000, func(_ context.Context, b Batch) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	require.Error(t, err)
	assert.Less(t, atomic.LoadInt32(&ran), int32(1000), "cancellation must stop the round early")
}
