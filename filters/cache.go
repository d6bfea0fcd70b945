package filters

import "sort"

// DefinitionCache holds designed definitions by filter name and sample rate.
// It is immutable: With returns a new cache and never touches the receiver.
type DefinitionCache struct {
	byName map[string]map[float64]Definition
}

// Get returns the definition designed for name at rate.
func (c DefinitionCache) Get(name string, rate float64) (Definition, bool) {
	rates, ok := c.byName[name]
	if !ok {
		return Definition{}, false
	}
	def, ok := rates[rate]
	return def, ok
}

// Has reports whether name is cached at rate.
func (c DefinitionCache) Has(name string, rate float64) bool {
	_, ok := c.Get(name, rate)
	return ok
}

// Rates returns the cached sample rates for name in ascending order.
func (c DefinitionCache) Rates(name string) []float64 {
	rates := c.byName[name]
	out := make([]float64, 0, len(rates))
	for r := range rates {
		out = append(out, r)
	}
	sort.Float64s(out)
	return out
}

// BySampleRate returns a copy of the per-rate map for name.
func (c DefinitionCache) BySampleRate(name string) map[float64]Definition {
	rates := c.byName[name]
	out := make(map[float64]Definition, len(rates))
	for r, d := range rates {
		out[r] = d
	}
	return out
}

// Len counts cached (name, rate) pairs.
func (c DefinitionCache) Len() int {
	n := 0
	for _, rates := range c.byName {
		n += len(rates)
	}
	return n
}

// Purpose: Return a cache that also holds defs.
// Key aspects: Copies only the outer map and the touched inner maps; defs
// without a designed sample rate are ignored.
// Upstream: appstate.AddDesignedDefinitions.
// Downstream: None.
func (c DefinitionCache) With(defs ...Definition) DefinitionCache {
	next := make(map[string]map[float64]Definition, len(c.byName)+len(defs))
	for name, rates := range c.byName {
		next[name] = rates
	}
	copied := make(map[string]bool)
	for _, def := range defs {
		rate := def.FilterDescription.Parameters.SampleRateHz
		if rate <= 0 {
			continue
		}
		if !copied[def.Name] {
			inner := make(map[float64]Definition, len(next[def.Name])+1)
			for r, d := range next[def.Name] {
				inner[r] = d
			}
			next[def.Name] = inner
			copied[def.Name] = true
		}
		next[def.Name][rate] = def
	}
	return DefinitionCache{byName: next}
}
