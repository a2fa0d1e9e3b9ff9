package cache

import (
	"sync"
)

// pairKey is an unordered pair of waypoint names.
type pairKey struct {
	a, b string
}

func keyOf(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// DistanceTable caches the distance between every pair of waypoints so the
// mission loop never recomputes a leg it already planned over.
// A pair is stored once and found in either order.
type DistanceTable struct {
	m         sync.RWMutex
	distances map[pairKey]float64
}

func NewDistanceTable() *DistanceTable {
	return &DistanceTable{
		distances: make(map[pairKey]float64),
	}
}

// Set stores the distance between a and b. It reports false when the pair
// was already present.
func (c *DistanceTable) Set(a, b string, d float64) bool {
	c.m.Lock()
	defer c.m.Unlock()
	k := keyOf(a, b)
	if _, ok := c.distances[k]; ok {
		return false
	}
	c.distances[k] = d
	return true
}

func (c *DistanceTable) Lookup(a, b string) (float64, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	d, ok := c.distances[keyOf(a, b)]
	return d, ok
}

// Len returns the number of stored pairs.
func (c *DistanceTable) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.distances)
}

// Each calls fn for every stored pair with a sorting before b.
func (c *DistanceTable) Each(fn func(a, b string, d float64)) {
	c.m.RLock()
	defer c.m.RUnlock()
	for k, d := range c.distances {
		fn(k.a, k.b, d)
	}
}

// Reset drops every stored pair.
func (c *DistanceTable) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.distances = make(map[pairKey]float64)
}
