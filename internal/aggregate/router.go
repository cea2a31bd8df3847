package aggregate

import (
	"github.com/spaolacci/murmur3"

	"github.com/arkilian/churnfeat/pkg/types"
)

// shardOf maps an entity id to one of n shards.
func shardOf(entityID string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(entityID)) % uint32(n))
}

// routeEvents groups events by shard, keeping their relative order. All
// events of one entity land in the same shard.
func routeEvents(events []types.Event, n int) [][]types.Event {
	if n < 1 {
		n = 1
	}
	shards := make([][]types.Event, n)
	for _, e := range events {
		i := shardOf(e.EntityID, n)
		shards[i] = append(shards[i], e)
	}
	return shards
}
