package directory

import (
	"sort"

	"github.com/gridmesh/gridmesh/core/types"
)

// Candidate is a matching result: a worker snapshot with the tier observed
// at query time.
type Candidate struct {
	Worker *types.Worker
	Tier   int
}

// Query returns eligible candidates for the requirements in deterministic
// rank order. A worker is eligible when its heartbeat is fresh, its live tier
// meets the minimum, and its capabilities cover the required tags.
func (d *Directory) Query(req types.Requirements) []Candidate {
	now := d.now()

	d.mu.RLock()
	snapshot := make([]*types.Worker, 0, len(d.workers))
	for _, w := range d.workers {
		if now.Sub(w.LastHeartbeat) > d.params.HeartbeatFreshness {
			continue
		}
		snapshot = append(snapshot, w.Clone())
	}
	d.mu.RUnlock()

	// Tier lookups happen outside the directory lock; the registry has its
	// own per-worker serialization.
	candidates := make([]Candidate, 0, len(snapshot))
	for _, w := range snapshot {
		tier := d.tiers.Tier(w.ID)
		if !req.SatisfiedBy(tier, w.Capabilities) {
			continue
		}
		candidates = append(candidates, Candidate{Worker: w, Tier: tier})
	}

	rankCandidates(candidates)
	return candidates
}

// rankCandidates orders by tier desc, reputation desc, last-assignment asc
// (idle workers first), then worker ID as a total-order tiebreak so matching
// is reproducible given identical inputs.
func rankCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		if a.Worker.Reputation != b.Worker.Reputation {
			return a.Worker.Reputation > b.Worker.Reputation
		}
		if !a.Worker.LastAssigned.Equal(b.Worker.LastAssigned) {
			return a.Worker.LastAssigned.Before(b.Worker.LastAssigned)
		}
		return a.Worker.ID < b.Worker.ID
	})
}
