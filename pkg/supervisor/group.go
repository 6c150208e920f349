package supervisor

import (
	"sort"
	"sync"

	"github.com/nimbusdaemon/procd/pkg/types"
)

// group holds every instance belonging to one ProcessConfig and serializes
// lifecycle operations (start/stop/restart/scale) against it so they can
// never interleave into an inconsistent instance table, per spec.md §4.4.
type group struct {
	mu sync.Mutex // serializes start/stop/restart/scale for this config

	cfg       *types.ProcessConfig
	instances map[int]*instance // keyed by cluster index
}

func newGroup(cfg *types.ProcessConfig) *group {
	return &group{cfg: cfg, instances: make(map[int]*instance)}
}

// all returns every instance in the group, ordered by index.
func (g *group) all() []*instance {
	indices := make([]int, 0, len(g.instances))
	for i := range g.instances {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make([]*instance, 0, len(indices))
	for _, i := range indices {
		out = append(out, g.instances[i])
	}
	return out
}
