package scan

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runShards dispatches fn across shards with parallelism<=1 meaning
// strictly sequential, and parallelism>1 meaning a bounded worker
// pool. errgroup.SetLimit bounds concurrency and the first error
// cancels the remaining shards: shards not yet started are skipped,
// while a shard already running finishes.
func runShards(shards []int, parallelism int, fn func(shard int) error) error {
	if parallelism <= 1 {
		for _, shard := range shards {
			if err := fn(shard); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(parallelism)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			return fn(shard)
		})
	}
	return g.Wait()
}
