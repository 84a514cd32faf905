// Package workers sizes the pond pools shared by RPC fetches and balance-block computations.
package workers

import (
	"runtime"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/balanceblocks/pkg/utils"
)

const (
	maxParallelism = 512
	minQueue       = 1024
	maxQueue       = 65536
)

// Parallelism returns override capped at 512, or four workers per CPU when override is not positive.
func Parallelism(override int) int {
	if override > 0 {
		if override > maxParallelism {
			return maxParallelism
		}
		return override
	}

	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	// Work is RPC and ClickHouse bound.
	parallelism := n * 4
	if parallelism < 2 {
		parallelism = 2
	}
	if parallelism > maxParallelism {
		parallelism = maxParallelism
	}
	return parallelism
}

// QueueSize lets a whole batch be queued without blocking submitters.
func QueueSize(parallelism, batchSize int) int {
	if parallelism < 1 {
		parallelism = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}

	queue := parallelism * batchSize
	if queue < minQueue {
		queue = minQueue
	}
	if queue > maxQueue {
		queue = maxQueue
	}
	return queue
}

// NewPoolFromEnv builds a pool sized by WORKERS.
func NewPoolFromEnv(batchSize int) pond.Pool {
	parallelism := Parallelism(utils.EnvInt("WORKERS", 0))
	return pond.NewPool(parallelism, pond.WithQueueSize(QueueSize(parallelism, batchSize)))
}
