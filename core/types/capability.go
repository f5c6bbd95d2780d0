package types

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a single advertised worker capability tag, e.g. "gpu/cuda",
// "mem/64g", "arch/amd64". Tags are free-form but compared case-insensitively.
type Capability string

// Normalize lowercases and trims the tag.
func (c Capability) Normalize() Capability {
	return Capability(strings.ToLower(strings.TrimSpace(string(c))))
}

// CapabilitySet is a set of capability tags.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a normalized set from tags.
func NewCapabilitySet(tags ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(tags))
	for _, t := range tags {
		n := t.Normalize()
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// Contains reports whether the set holds the tag.
func (s CapabilitySet) Contains(c Capability) bool {
	_, ok := s[c.Normalize()]
	return ok
}

// Superset reports whether every tag in other is present in s.
func (s CapabilitySet) Superset(other CapabilitySet) bool {
	for c := range other {
		if _, ok := s[c]; !ok {
			return false
		}
	}
	return true
}

// Tags returns the tags in sorted order for deterministic output.
func (s CapabilitySet) Tags() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy of the set.
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

func (s CapabilitySet) String() string {
	tags := s.Tags()
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// Requirements describes what a job demands of a worker: a minimum stake tier
// and a set of required capability tags.
type Requirements struct {
	MinTier int           `json:"min_tier" yaml:"min_tier"`
	Tags    CapabilitySet `json:"tags" yaml:"tags"`
}

// Validate rejects empty or malformed requirement specs.
func (r Requirements) Validate() error {
	if r.MinTier < 0 {
		return fmt.Errorf("min_tier must be non-negative, got %d", r.MinTier)
	}
	if len(r.Tags) == 0 {
		return fmt.Errorf("capability requirements must not be empty")
	}
	return nil
}

// SatisfiedBy reports whether a worker with the given tier and capability set
// meets the requirements. The tier check is against live registry state, not
// the advertised tier, so a slashed worker cannot coast on a stale claim.
func (r Requirements) SatisfiedBy(tier int, caps CapabilitySet) bool {
	if tier < r.MinTier {
		return false
	}
	return caps.Superset(r.Tags)
}
