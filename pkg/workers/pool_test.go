package workers

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelism(t *testing.T) {
	tests := []struct {
		name     string
		override int
		want     int
	}{
		{"override with valid value", 128, 128},
		{"override with small value", 1, 1},
		{"override exceeding max caps at 512", 1024, 512},
		{"override at max boundary", 512, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parallelism(tt.override))
		})
	}

	got := Parallelism(0)
	assert.GreaterOrEqual(t, got, 2)
	assert.LessOrEqual(t, got, 512)
	if base := runtime.NumCPU() * 4; base <= 512 {
		assert.Equal(t, base, got)
	}
}

func TestQueueSize(t *testing.T) {
	tests := []struct {
		name        string
		parallelism int
		batch       int
		want        int
	}{
		{"minimum applies", 4, 10, 1024},
		{"product", 64, 100, 6400},
		{"capped", 512, 1000, 65536},
		{"non-positive inputs", 0, -3, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QueueSize(tt.parallelism, tt.batch))
		})
	}
}

func TestNewPoolFromEnv(t *testing.T) {
	t.Setenv("WORKERS", "3")
	pool := NewPoolFromEnv(10)
	defer pool.StopAndWait()
	assert.Equal(t, 3, pool.MaxConcurrency())
}
