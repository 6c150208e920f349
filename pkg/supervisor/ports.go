package supervisor

import (
	"strconv"
	"sync"
)

// portAssigner computes PORT=base+index for cluster members, the way a
// service launched under a PORT env var expects to claim its own port per
// instance. The base is the config's own cfg.Env["PORT"], captured once per
// config at first start, so later scale() calls derive the same sequence
// rather than drifting if the config is edited underneath it.
type portAssigner struct {
	mu   sync.Mutex
	base map[string]int
}

func newPortAssigner() *portAssigner {
	return &portAssigner{base: make(map[string]int)}
}

// assign returns the port for configID's instance index, and whether a base
// PORT was available at all (no PORT in the config's env ⇒ ok=false, nothing
// is set). rawPort is the config's own cfg.Env["PORT"], which is only
// consulted the first time a given configID is seen.
func (p *portAssigner) assign(configID string, index int, rawPort string) (port int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	base, seen := p.base[configID]
	if !seen {
		if rawPort == "" {
			p.base[configID] = -1
			return 0, false
		}
		n, err := strconv.Atoi(rawPort)
		if err != nil {
			p.base[configID] = -1
			return 0, false
		}
		p.base[configID] = n
		base = n
	}
	if base < 0 {
		return 0, false
	}
	return base + index, true
}

// release forgets a config's assigned base port, called when its whole
// group is deleted.
func (p *portAssigner) release(configID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.base, configID)
}
