package domain

import (
	"context"
	"log/slog"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// Shard selects one slice of a scenario stream: the scenario at stream
// position i belongs to shard i % Total.
type Shard struct {
	Index int
	Total int
}

// Enabled reports whether the stream is actually split.
func (s Shard) Enabled() bool {
	return s.Total > 1
}

// ShardScenarios streams only the scenarios that belong to shard.
func ShardScenarios(ctx context.Context, in <-chan *m.Scenario, bufferSize int, shard Shard) <-chan *m.Scenario {
	ch := make(chan *m.Scenario, normalizeBufferSize(bufferSize))

	go func() {
		defer close(ch)

		if !shard.Enabled() {
			slog.Debug("Sharding disabled, passing through all scenarios")
			passThroughScenarios(ctx, in, ch)

			return
		}

		slog.Debug("Starting scenario sharding", "shardIndex", shard.Index, "totalShardCount", shard.Total)
		filterScenariosByShard(ctx, in, ch, shard)
	}()

	return ch
}

// ShardSource wraps a source so that only one shard of it is produced.
func ShardSource(source ScenarioSource, bufferSize int, shard Shard) ScenarioSource {
	if !shard.Enabled() {
		return source
	}

	return ScenarioSourceFunc(func(ctx context.Context) (<-chan *m.Scenario, <-chan error) {
		scenarios, errs := source.Scenarios(ctx)
		return ShardScenarios(ctx, scenarios, bufferSize, shard), errs
	})
}

func normalizeBufferSize(size int) int {
	if size <= 0 {
		return 1
	}

	return size
}

func passThroughScenarios(ctx context.Context, in <-chan *m.Scenario, out chan<- *m.Scenario) {
	for scenario := range in {
		select {
		case <-ctx.Done():
			slog.Debug("Scenario pass-through cancelled")
			return
		case out <- scenario:
		}
	}
}

// filterScenariosByShard applies round-robin shard assignment.
func filterScenariosByShard(ctx context.Context, in <-chan *m.Scenario, out chan<- *m.Scenario, shard Shard) {
	index := 0

	for scenario := range in {
		select {
		case <-ctx.Done():
			slog.Debug("Scenario sharding cancelled")
			return
		default:
		}

		if index%shard.Total == shard.Index {
			select {
			case <-ctx.Done():
				return
			case out <- scenario:
			}
		}

		index++
	}
}
